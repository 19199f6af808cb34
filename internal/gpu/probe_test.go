package gpu

import "testing"

func TestParseSMIOutput(t *testing.T) {
	out := "45, 120.50, 33\n78, 310.00, 99\n"
	readings, err := ParseSMIOutput(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(readings) != 2 {
		t.Fatalf("expected 2 readings, got %d", len(readings))
	}
	if readings[0].TemperatureC != 45 || readings[0].PowerW != 120.5 || readings[0].UtilizationPct != 33 {
		t.Fatalf("unexpected first reading: %+v", readings[0])
	}
	if readings[1].TemperatureC != 78 {
		t.Fatalf("unexpected second reading: %+v", readings[1])
	}
}

func TestParseSMIOutputNA(t *testing.T) {
	readings, err := ParseSMIOutput("51, [N/A], 12\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if readings[0].PowerW != 0 {
		t.Fatalf("expected N/A power parsed as 0, got %v", readings[0].PowerW)
	}
}

func TestParseSMIOutputMalformed(t *testing.T) {
	if _, err := ParseSMIOutput("51, 100\n"); err == nil {
		t.Fatalf("expected error on short line")
	}
	if _, err := ParseSMIOutput("x, y, z\n"); err == nil {
		t.Fatalf("expected error on non-numeric fields")
	}
}

func TestParseSMIOutputEmpty(t *testing.T) {
	readings, err := ParseSMIOutput("\n\n")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(readings) != 0 {
		t.Fatalf("expected no readings, got %d", len(readings))
	}
}
