package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		level  string
		format string
		want   logrus.Level
		json   bool
	}{
		{"debug", "json", logrus.DebugLevel, true},
		{"WARN", "text", logrus.WarnLevel, false},
		{"", "", logrus.InfoLevel, false},
		{"bogus", "JSON", logrus.InfoLevel, true},
	}

	for _, tt := range tests {
		Setup(tt.level, tt.format)
		assert.Equal(t, tt.want, Log.GetLevel(), tt.level)
		_, isJSON := Log.Formatter.(*logrus.JSONFormatter)
		assert.Equal(t, tt.json, isJSON, tt.format)
	}
	Setup("info", "text")
}
