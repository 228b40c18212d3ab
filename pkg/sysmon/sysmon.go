// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package sysmon

import (
	"encoding/json"
	"html/template"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"bedguard/pkg/logger"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

type CPU struct {
	SystemPercent  float64 `json:"system_percent"`
	ProcessPercent float64 `json:"process_percent"`
}

type Memory struct {
	SystemTotal uint64 `json:"system_total"`
	SystemUsed  uint64 `json:"system_used"`
	SystemFree  uint64 `json:"system_free"`
	ProcessRSS  uint64 `json:"process_rss"`
}

type Disk struct {
	Path  string `json:"path"`
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// Report is one sample of host and process health.
type Report struct {
	GoVersion     string        `json:"go_version"`
	Goroutines    int           `json:"goroutines"`
	HostUptime    time.Duration `json:"host_uptime_ns"`
	ProcessUptime time.Duration `json:"process_uptime_ns"`
	CPU           CPU           `json:"cpu"`
	Memory        Memory        `json:"memory"`
	Disks         []Disk        `json:"disks"`
}

type Service struct {
	disks   []string
	started time.Time
	log     *logger.Logger
}

// New watches the given filesystem paths, "/" when none are named.
func New(disks ...string) *Service {
	if len(disks) == 0 {
		disks = []string{"/"}
	}
	return &Service{
		disks:   disks,
		started: time.Now(),
		log:     logger.New("System Monitor"),
	}
}

// Collect samples everything it can. Individual probe failures leave
// zero values and are logged at debug level.
func (s *Service) Collect() Report {
	r := Report{
		GoVersion:     runtime.Version(),
		Goroutines:    runtime.NumGoroutine(),
		ProcessUptime: time.Since(s.started).Truncate(time.Second),
	}

	if up, err := host.Uptime(); err == nil {
		r.HostUptime = time.Duration(up) * time.Second
	} else {
		s.log.Debug("host uptime: %v", err)
	}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		r.CPU.SystemPercent = pcts[0]
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		r.Memory.SystemTotal = vmem.Total
		r.Memory.SystemUsed = vmem.Used
		r.Memory.SystemFree = vmem.Available
	} else {
		s.log.Debug("virtual memory: %v", err)
	}

	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := p.MemoryInfo(); err == nil {
			r.Memory.ProcessRSS = mi.RSS
		}
		if pct, err := p.CPUPercent(); err == nil {
			r.CPU.ProcessPercent = pct
		}
	}

	for _, path := range s.disks {
		total, free, used, err := DiskUsage(path)
		if err != nil {
			s.log.Debug("disk usage %s: %v", path, err)
			continue
		}
		r.Disks = append(r.Disks, Disk{Path: path, Total: total, Used: used, Free: free})
	}
	return r
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := s.Collect()

	if strings.Contains(r.Header.Get("Accept"), "application/json") || r.URL.Query().Get("format") == "json" {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(report); err != nil {
			s.log.Error("encode report: %v", err)
		}
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := page.Execute(w, report); err != nil {
		s.log.Error("render report: %v", err)
	}
}

func gb(b uint64) float64 { return float64(b) / (1 << 30) }
func mb(b uint64) float64 { return float64(b) / (1 << 20) }

var page = template.Must(template.New("sysmon").Funcs(template.FuncMap{"gb": gb, "mb": mb}).Parse(`<!DOCTYPE html>
<html>
<head>
	<title>System Monitor</title>
	<style>
		body { font-family: sans-serif; margin: 2em; background: #f9f9f9; }
		table { border-collapse: collapse; width: 60%; margin-top: 1em; }
		th, td { border: 1px solid #ccc; padding: 0.6em 1em; text-align: left; }
		th { background: #eee; }
	</style>
</head>
<body>
	<h1>System Monitor</h1>
	<p>{{.GoVersion}}, {{.Goroutines}} goroutines, up {{.ProcessUptime}} (host {{.HostUptime}})</p>
	<h2>CPU</h2>
	<table>
		<tr><th>System %</th><th>Process %</th></tr>
		<tr><td>{{printf "%.2f" .CPU.SystemPercent}}</td><td>{{printf "%.2f" .CPU.ProcessPercent}}</td></tr>
	</table>
	<h2>Memory</h2>
	<table>
		<tr><th>System Total</th><th>System Used</th><th>System Free</th><th>Process RSS</th></tr>
		<tr>
			<td>{{printf "%.2f GB" (gb .Memory.SystemTotal)}}</td>
			<td>{{printf "%.2f GB" (gb .Memory.SystemUsed)}}</td>
			<td>{{printf "%.2f GB" (gb .Memory.SystemFree)}}</td>
			<td>{{printf "%.2f MB" (mb .Memory.ProcessRSS)}}</td>
		</tr>
	</table>
	<h2>Disks</h2>
	<table>
		<tr><th>Path</th><th>Total</th><th>Used</th><th>Free</th></tr>
		{{range .Disks}}<tr>
			<td>{{.Path}}</td>
			<td>{{printf "%.2f GB" (gb .Total)}}</td>
			<td>{{printf "%.2f GB" (gb .Used)}}</td>
			<td>{{printf "%.2f GB" (gb .Free)}}</td>
		</tr>{{end}}
	</table>
</body>
</html>
`))
