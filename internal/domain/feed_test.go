package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedEntry_Succeeded(t *testing.T) {
	assert.True(t, FeedEntry{Images: []string{"aGk="}}.Succeeded())
	assert.False(t, FeedEntry{Images: []string{}}.Succeeded())
	assert.False(t, FeedEntry{}.Succeeded())
}

func TestFeedEntry_JSONShape(t *testing.T) {
	entry := FeedEntry{
		Username:  "u",
		Prompt:    "a cat",
		Images:    []string{"img1"},
		Timestamp: "2022-06-12T10:00:00.123",
		Seq:       7,
	}

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.JSONEq(t, `{"username":"u","prompt":"a cat","images":["img1"],"ts":"2022-06-12T10:00:00.123"}`, string(data))
}

func TestFormatTimestamp_NoZone(t *testing.T) {
	ts := time.Date(2022, 6, 12, 10, 0, 0, 123000000, time.UTC)

	assert.Equal(t, "2022-06-12T10:00:00.123", FormatTimestamp(ts))
	assert.Equal(t, "2022-06-12T10:00:00", FormatTimestamp(ts.Truncate(time.Second)))
}
