package playout

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyPipelineError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		stderrTail string
		expected   FailureType
	}{
		{
			name:     "connection refused",
			err:      errors.New("dial tcp: connection refused"),
			expected: FailureSourceLost,
		},
		{
			name:       "missing file in stderr",
			err:        errors.New("exit status 1"),
			stderrTail: "/library/gone.mkv: No such file or directory",
			expected:   FailureSourceLost,
		},
		{
			name:       "invalid data",
			err:        errors.New("exit status 1"),
			stderrTail: "Invalid data found when processing input",
			expected:   FailureDecode,
		},
		{
			name:     "timeout",
			err:      errors.New("context deadline exceeded"),
			expected: FailureTimeout,
		},
		{
			name:     "plain crash",
			err:      errors.New("signal: killed"),
			expected: FailureCrash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyPipelineError(tt.err, tt.stderrTail)
			require.NotNil(t, classified)
			assert.Equal(t, tt.expected, classified.Type)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassifyPipelineError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyPipelineError(nil, ""))
}

func TestClassifyPipelineError_PreservesExisting(t *testing.T) {
	original := NewPipelineError(FailureDecode, "bad stream", errors.New("decoder error"))
	wrapped := fmt.Errorf("pipeline: %w", original)

	classified := ClassifyPipelineError(wrapped, "")

	assert.Same(t, original, classified)
}

func TestPipelineError_Message(t *testing.T) {
	err := NewPipelineError(FailureSourceLost, "input source unreachable", errors.New("connection reset"))
	assert.Contains(t, err.Error(), "source_lost")
	assert.Contains(t, err.Error(), "connection reset")

	bare := NewPipelineError(FailureCrash, "transcoder process failed", nil)
	assert.Contains(t, bare.Error(), "crash")
}
