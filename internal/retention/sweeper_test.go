package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/me/batchpoll/internal/logging"
)

type fakeStore struct {
	jobCutoff, logCutoff time.Time
	jobCalls, logCalls   int
	err                  error
}

func (f *fakeStore) DeleteTerminalJobsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.jobCalls++
	f.jobCutoff = cutoff
	return 2, f.err
}

func (f *fakeStore) DeletePollLogsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.logCalls++
	f.logCutoff = cutoff
	return 7, nil
}

func TestSweep_Cutoffs(t *testing.T) {
	now := time.Date(2026, 6, 30, 3, 0, 0, 0, time.UTC)
	st := &fakeStore{}
	s, err := New(st, Config{Schedule: "@daily", JobDays: 30, LogDays: 7}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	s.now = func() time.Time { return now }

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Jobs != 2 || res.Logs != 7 {
		t.Errorf("result = %+v", res)
	}
	if want := now.AddDate(0, 0, -30); !st.jobCutoff.Equal(want) {
		t.Errorf("job cutoff = %v, want %v", st.jobCutoff, want)
	}
	if want := now.AddDate(0, 0, -7); !st.logCutoff.Equal(want) {
		t.Errorf("log cutoff = %v, want %v", st.logCutoff, want)
	}
}

func TestSweep_ZeroDaysSkipsPurge(t *testing.T) {
	st := &fakeStore{}
	s, err := New(st, Config{JobDays: 0, LogDays: 3}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sweep(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.jobCalls != 0 || st.logCalls != 1 {
		t.Errorf("calls jobs=%d logs=%d, want 0 and 1", st.jobCalls, st.logCalls)
	}
}

func TestSweep_StoreError(t *testing.T) {
	st := &fakeStore{err: errors.New("disk full")}
	s, err := New(st, Config{JobDays: 1, LogDays: 1}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if st.logCalls != 0 {
		t.Error("log purge should not run after a failed job purge")
	}
}

func TestSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"", false},
		{"@daily", false},
		{"@every 1h", false},
		{"0 3 * * *", false},
		{"30 0 3 * * *", false},
		{"not a schedule", true},
		{"61 * * * *", true},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSchedule(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
			_, err = New(&fakeStore{}, Config{Schedule: tt.spec}, logging.Discard())
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) err = %v, wantErr %v", tt.spec, err, tt.wantErr)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeStore{}, Config{Schedule: "@every 1h", JobDays: 1}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)

	disabled, err := New(&fakeStore{}, Config{}, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	disabled.Start()
	disabled.Stop(ctx)
}
