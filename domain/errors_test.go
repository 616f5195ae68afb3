package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestStageErrorUnwrap(t *testing.T) {
	err := GenerationFailed(ErrEmptyReply)

	if !errors.Is(err, ErrEmptyReply) {
		t.Error("Expected stage error to unwrap to ErrEmptyReply")
	}

	stage, ok := FailedStage(fmt.Errorf("turn: %w", err))
	if !ok {
		t.Fatal("Expected wrapped stage error to be found")
	}
	if stage != StageGeneration {
		t.Errorf("Expected stage %s, got %s", StageGeneration, stage)
	}

	if err.Error() != "generation failed: empty reply from generation backend" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}

func TestFailedStageWithoutStage(t *testing.T) {
	if _, ok := FailedStage(errors.New("plain")); ok {
		t.Error("Expected no stage for a plain error")
	}
}

func TestIsStopped(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"stopped", ErrStoppedByUser, true},
		{"wrapped stopped", SynthesisFailed(ErrStoppedByUser), true},
		{"context canceled", fmt.Errorf("request: %w", context.Canceled), true},
		{"deadline", context.DeadlineExceeded, false},
		{"no speech", ErrNoSpeech, false},
		{"nil", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsStopped(tc.err); got != tc.want {
				t.Errorf("IsStopped(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestDeviceError(t *testing.T) {
	cause := errors.New("permission denied")
	err := error(&DeviceError{Op: "open", Err: cause})

	var deviceErr *DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatal("Expected DeviceError")
	}
	if !errors.Is(err, cause) {
		t.Error("Expected DeviceError to unwrap to its cause")
	}
	if err.Error() != "audio device open: permission denied" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
