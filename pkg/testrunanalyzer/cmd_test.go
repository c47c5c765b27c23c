package testrunanalyzer

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLogLevel(t *testing.T) {
	defer logrus.SetLevel(logrus.GetLevel())

	testCases := []struct {
		name     string
		level    string
		expected logrus.Level
		err      bool
	}{
		{
			name:     "debug",
			level:    "debug",
			expected: logrus.DebugLevel,
		},
		{
			name:  "unknown",
			level: "chatty",
			err:   true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logrus.SetLevel(logrus.InfoLevel)
			cmd := NewTestRunAnalyzerCommand()
			if err := cmd.PersistentFlags().Set("log-level", tc.level); err != nil {
				t.Fatalf("failed to set --log-level: %v", err)
			}

			err := cmd.PersistentPreRunE(cmd, nil)
			if tc.err != (err != nil) {
				t.Fatalf("expected error %v, got %v", tc.err, err)
			}
			if !tc.err && logrus.GetLevel() != tc.expected {
				t.Errorf("expected level %v, got %v", tc.expected, logrus.GetLevel())
			}
		})
	}
}
