package cron

import "testing"

func FuzzCronSchedule(f *testing.F) {
	f.Add("*/5 * * * *")
	f.Add("0 0 * * *")
	f.Add("@every 1m")
	f.Add("@every -1s")
	f.Add("@daily")
	f.Add("invalid")
	f.Add("")
	f.Add("60 * * * *")

	f.Fuzz(func(_ *testing.T, expr string) {
		// Must not panic; errors are expected.
		_, _ = parser.Parse(expr)
	})
}
