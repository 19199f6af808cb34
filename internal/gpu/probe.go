package gpu

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Reading is one device's live health sample.
type Reading struct {
	TemperatureC   float64
	PowerW         float64
	UtilizationPct float64
}

// Probe samples live health metrics for every device, index-aligned with the
// manager inventory.
type Probe interface {
	Sample(ctx context.Context) ([]Reading, error)
}

// SMIProbe shells out to nvidia-smi and parses its CSV output. Kept
// out-of-process so the daemon builds and runs without driver headers.
type SMIProbe struct {
	Bin     string        // defaults to "nvidia-smi"
	Timeout time.Duration // per-sample budget, defaults to 3s
}

func (p *SMIProbe) Sample(ctx context.Context) ([]Reading, error) {
	bin := p.Bin
	if bin == "" {
		bin = "nvidia-smi"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, bin,
		"--query-gpu=temperature.gpu,power.draw,utilization.gpu",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, fmt.Errorf("nvidia-smi: %w", err)
	}
	return ParseSMIOutput(string(out))
}

// ParseSMIOutput parses "temp, power, util" CSV lines, one per device.
func ParseSMIOutput(out string) ([]Reading, error) {
	var readings []Reading
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("unexpected nvidia-smi line: %q", line)
		}
		var r Reading
		var err error
		if r.TemperatureC, err = parseField(parts[0]); err != nil {
			return nil, err
		}
		if r.PowerW, err = parseField(parts[1]); err != nil {
			return nil, err
		}
		if r.UtilizationPct, err = parseField(parts[2]); err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

func parseField(s string) (float64, error) {
	s = strings.TrimSpace(s)
	// nvidia-smi reports "[N/A]" for fields some boards do not expose.
	if s == "" || strings.Contains(s, "N/A") {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse nvidia-smi field %q: %w", s, err)
	}
	return v, nil
}

// StaticProbe returns fixed readings; used by tests and the doctor command.
type StaticProbe struct {
	Readings []Reading
	Err      error
}

func (p *StaticProbe) Sample(context.Context) ([]Reading, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.Readings, nil
}
