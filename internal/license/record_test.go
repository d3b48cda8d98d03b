package license

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDaysRemaining(t *testing.T) {
	now := testStart
	tests := []struct {
		name       string
		expiration time.Time
		want       int
	}{
		{"a year", now.Add(365 * 24 * time.Hour), 365},
		{"partial day rounds up", now.Add(90 * time.Minute), 1},
		{"just past a day", now.Add(24*time.Hour + time.Second), 2},
		{"expired", now.Add(-time.Hour), 0},
		{"exactly now", now, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Record{ExpirationDate: tt.expiration}
			assert.Equal(t, tt.want, r.DaysRemaining(now))
		})
	}

	var nilRecord *Record
	assert.Zero(t, nilRecord.DaysRemaining(now))
}

func TestRecordClone(t *testing.T) {
	r := storedRecord(testStart)
	c := r.Clone()
	c.Features[0] = "changed"
	assert.Equal(t, "case_processing", r.Features[0])

	var nilRecord *Record
	assert.Nil(t, nilRecord.Clone())
}

func TestFeatures(t *testing.T) {
	for _, f := range KnownFeatures() {
		assert.Equal(t, f, ParseFeature(string(f)))
		assert.True(t, f.Known())
	}

	assert.Equal(t, FeatureUnrecognized, ParseFeature("teleport"))
	assert.Equal(t, FeatureUnrecognized, ParseFeature("Reports"))
	assert.False(t, FeatureUnrecognized.Known())
	assert.Equal(t, "unrecognized", FeatureUnrecognized.String())

	r := &Record{Features: []string{"reports", "teleport"}}
	assert.True(t, r.HasFeatureTag("teleport"), "unknown tags are kept on the record")
	assert.False(t, r.HasFeatureTag(""))
}

func TestNormalizeFeatures(t *testing.T) {
	assert.Equal(t, []string{"case_processing", "reports"},
		normalizeFeatures([]string{" reports", "case_processing", "", "reports"}))
	assert.Equal(t, []string{}, normalizeFeatures(nil))
}

func TestNoticeFor(t *testing.T) {
	deadline := testStart.Add(testGrace)
	tests := []struct {
		state State
		want  NoticeKind
	}{
		{StateUninitialized, NoticeNeedsActivation},
		{StateActivating, NoticeNeedsActivation},
		{StateActive, NoticeOK},
		{StateOfflineGrace, NoticeOfflineUntil},
		{StateExpired, NoticeRenewalRequired},
		{StateSuspended, NoticeContactSupport},
		{StateRevoked, NoticeContactSupport},
		{StateHardwareMismatch, NoticeHardwareMismatch},
		{StateNotFound, NoticeNeedsActivation},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			n := noticeFor(tt.state, deadline)
			assert.Equal(t, tt.want, n.Kind)
			assert.NotEmpty(t, n.Message)
		})
	}
}
