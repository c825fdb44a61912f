package observability

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorCyan     = "\033[36m"
	colorBlue     = "\033[34m"
	colorBold     = "\033[1m"
	colorPurple   = "\033[35m"
	colorNeonCyan = "\033[96m"
	colorNeonMag  = "\033[95m"
)

var radarFrames = []string{"◜", "◝", "◞", "◟"}
var radarIdx = 0

// termMu synchronizes ALL terminal output so that the cursor
// save/restore in PrintLiveStatus can never be interrupted by a log write.
var termMu sync.Mutex

// ------------------------------------------------------------
// Utility
// ------------------------------------------------------------

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// ------------------------------------------------------------
// TermWriter – a mutex-guarded io.Writer for log output.
// Every log.Println call will go through this writer, ensuring
// the cursor is safely inside the scroll region before writing.
// ------------------------------------------------------------

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
// It serialises writes with PrintLiveStatus via termMu.
func NewTermWriter() *termWriter {
	return &termWriter{}
}

// ------------------------------------------------------------
// Banner
// ------------------------------------------------------------

func PrintBanner() {
	fmt.Print("\033[2J\033[H")

	banner := `
  ____ _    _ ___ _____ ___ _  _ ___  ___   _   ___ ___
 / ___| |  | |_ _|_   _/ __| || | _ )/ _ \ /_\ | _ \   \
 \___ \ |/\| || |  | || (__| __ | _ \ (_) / _ \|   / |) |
 |____/\_/\_/|___| |_| \___|_||_|___/\___/_/ \_\_|_\___/

        >> PLAN. LOAD. EXECUTE. RELEASE. <<
`

	width := termWidth()
	lines := strings.Split(banner, "\n")

	for _, l := range lines {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		fmt.Printf("%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
	}
}

func InitializeTerminal() {
	// Header/Logo area: 1-9
	// Dashboard/Status: 10
	// Gap: 11
	// Scrolling Logs: 12+
	fmt.Print("\033[12;r")  // Set scrolling region from line 12 to the bottom
	fmt.Print("\033[12;1H") // Move cursor to the start of the scrolling region
}

func CleanupTerminal() {
	fmt.Print("\033[r\033[2J\033[H")
}

// ------------------------------------------------------------
// Live Status
// ------------------------------------------------------------

// frame is everything one status line shows.
type frame struct {
	snap   Snapshot
	active []string
	uptime time.Duration
	heapMB float64
	sysMB  float64
	radar  string
	now    time.Time
}

// PrintLiveStatus redraws the status line. active lists the capability
// providers currently resident.
func PrintLiveStatus(active []string) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	f := frame{
		snap:   GetStatus(),
		active: active,
		uptime: time.Since(startTime).Round(time.Second),
		heapMB: float64(m.Alloc) / 1024 / 1024,
		sysMB:  float64(m.Sys) / 1024 / 1024,
		radar:  " ",
		now:    time.Now(),
	}
	if f.snap.Turns > 0 {
		f.radar = radarFrames[radarIdx]
		radarIdx = (radarIdx + 1) % len(radarFrames)
	}

	// Build the line before locking, to minimise lock hold time.
	line := "\033[s\033[10;1H\033[K" + renderStatus(f) + "\033[u"

	termMu.Lock()
	fmt.Print(line)
	termMu.Unlock()
}

func pulse(sinceHeartbeat time.Duration) (icon, text, color string) {
	switch {
	case sinceHeartbeat < 40*time.Second:
		return "🟢", "HEALTHY", colorNeonCyan
	case sinceHeartbeat < 90*time.Second:
		return "🟡", "LAGGING", colorPurple
	default:
		return "🔴", "OFFLINE", colorNeonMag
	}
}

func roleStyle(role Role) (icon, color string) {
	switch role {
	case RolePlanning:
		return "🛰️", colorNeonCyan
	case RoleExecuting:
		return "⚙️", colorNeonMag
	case RoleResponding:
		return "💬", colorBlue
	default:
		return "💤", colorReset
	}
}

func shorten(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// renderStatus formats the dashboard line without cursor movement.
func renderStatus(f frame) string {
	pIcon, pText, pColor := pulse(f.now.Sub(f.snap.LastHeartbeat))
	rIcon, rColor := roleStyle(f.snap.Role)

	task := f.snap.Task
	if task == "" {
		task = "Waiting..."
	}
	turns := fmt.Sprintf("%d turns", f.snap.Turns)
	if f.snap.Turns > 0 {
		turns += fmt.Sprintf(" P%d E%d R%d",
			f.snap.ByRole[RolePlanning], f.snap.ByRole[RoleExecuting], f.snap.ByRole[RoleResponding])
	}

	loaded := "none"
	if len(f.active) > 0 {
		loaded = strings.Join(f.active, ",")
	}

	memPercent := 0.0
	if f.sysMB > 0 {
		memPercent = f.heapMB / f.sysMB
	}
	barWidth := 20
	filled := clamp(int(memPercent*float64(barWidth)), 0, barWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("▒", barWidth-filled)
	barColor := colorNeonCyan
	if memPercent > 0.7 {
		barColor = colorNeonMag
	}

	return fmt.Sprintf(
		"%s[%s] %s%s %-10s%s | %s[%s %-10s%s] [%s] [%s] %s%s%s [%v] [%scaps: %s%s] [%s%s %.1fMB%s]",
		colorReset, f.snap.LastHeartbeat.Format("15:04:05"),
		pColor, pIcon, pText, colorReset,
		rColor, rIcon, f.snap.Role, colorReset,
		shorten(task, 25),
		turns,
		colorPurple, f.radar, colorReset,
		f.uptime,
		colorBold, shorten(loaded, 30), colorReset,
		barColor, bar, f.heapMB, colorReset,
	)
}
