package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnrichIPWorkflow_ServiceName(t *testing.T) {
	workflow := &EnrichIPWorkflow{}
	assert.Equal(t, "EnrichIPWorkflow", workflow.ServiceName())
}

func TestEnrichIPRequest_Validation(t *testing.T) {
	tests := []struct {
		name    string
		req     EnrichIPRequest
		wantErr bool
	}{
		{
			name:    "valid address",
			req:     EnrichIPRequest{IP: "8.8.8.8"},
			wantErr: false,
		},
		{
			name:    "empty address",
			req:     EnrichIPRequest{},
			wantErr: true,
		},
		{
			name:    "longest dotted quad",
			req:     EnrichIPRequest{IP: "255.255.255.255"},
			wantErr: false,
		},
		{
			name:    "over dotted-quad length",
			req:     EnrichIPRequest{IP: "1234.1234.1234.1234"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
