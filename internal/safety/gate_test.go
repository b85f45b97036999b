package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aidkit/loopcore/internal/pump"
)

func TestCheck(t *testing.T) {
	full := Reservoir{Level: 150, Known: true}

	tests := []struct {
		name      string
		status    *pump.Status
		reservoir Reservoir
		want      Result
	}{
		{"nil status", nil, full, PumpNotConfigured},
		{"normal", &pump.Status{}, full, Ok},
		{"bolusing", &pump.Status{Bolusing: true}, full, PumpBusy},
		{"suspended", &pump.Status{Suspended: true}, full, PumpSuspended},
		{"bolusing wins over suspended", &pump.Status{Bolusing: true, Suspended: true}, full, PumpBusy},
		{"negative reservoir sentinel", &pump.Status{}, Reservoir{Level: -1, Known: true}, ReservoirEmpty},
		{"zero reservoir passes", &pump.Status{}, Reservoir{Level: 0, Known: true}, Ok},
		{"unknown reservoir passes", &pump.Status{}, Reservoir{}, Ok},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Check(tt.status, tt.reservoir)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == Ok, got.Passed())
		})
	}
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "pump is bolusing", PumpBusy.String())
	assert.Equal(t, "pump suspended", PumpSuspended.String())
	assert.Equal(t, "reservoir is empty", ReservoirEmpty.String())
	assert.Equal(t, "pump not configured", PumpNotConfigured.String())
}
