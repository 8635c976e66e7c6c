package workflow

import (
	"errors"
	"testing"

	"github.com/JeromeFenwick/bili-sync/remote"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"risk control", remote.ErrRiskControl, KindRemoteRiskControl},
		{"not found", remote.ErrNotFound, KindRemoteNotFound},
		{"gone", remote.ErrGone, KindRemoteGone},
		{"wrapped not found", errWrap(remote.ErrNotFound), KindRemoteNotFound},
		{"unknown", errors.New("boom"), KindRemoteTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.err); got != tc.want {
				t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func errWrap(err error) error {
	return errors.Join(err)
}

func TestToExecutionStatusTerminalVsRetry(t *testing.T) {
	if s := ToExecutionStatus(nil); s.Label() != "succeeded" {
		t.Errorf("nil error => %s, want succeeded", s.Label())
	}
	if s := ToExecutionStatus(remote.ErrNotFound); s.Label() != "ignored" {
		t.Errorf("ErrNotFound => %s, want ignored", s.Label())
	}
	if s := ToExecutionStatus(remote.ErrGone); s.Label() != "ignored" {
		t.Errorf("ErrGone => %s, want ignored", s.Label())
	}
	if s := ToExecutionStatus(errors.New("network blip")); s.Label() != "failed" {
		t.Errorf("generic error => %s, want failed", s.Label())
	}
}
