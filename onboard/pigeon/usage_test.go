package pigeon

import (
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestUsageStats(t *testing.T) {
	Convey("given usage stats with a fake sink", t, func() {
		sink := &fakeSink{}
		stats := NewUsageStats(sink)
		stats.Init(3)

		Convey("a new flag is reported with the accumulated mask", func() {
			stats.Apply(3, UsageGetYPR)
			stats.Apply(3, UsageGetFused)

			So(sink.count(), ShouldEqual, 2)
			So(sink.reports[1], ShouldResemble, usageReport{3, UsageGetYPR | UsageGetFused})
			So(stats.Usage(3), ShouldEqual, UsageGetYPR|UsageGetFused)
		})

		Convey("a flag already set is not reported again", func() {
			stats.Apply(3, UsageCalibration)
			stats.Apply(3, UsageCalibration)
			stats.Apply(3, UsageCalibration)
			So(sink.count(), ShouldEqual, 1)
		})

		Convey("devices are tracked separately", func() {
			stats.Apply(3, UsageTempComp)
			stats.Apply(4, UsageTempComp)
			So(sink.count(), ShouldEqual, 2)
			So(sink.reports[1].device, ShouldEqual, 4)
		})

		Convey("init clears a device", func() {
			stats.Apply(3, UsageGetCompass)
			stats.Init(3)
			So(stats.Usage(3), ShouldEqual, 0)
			stats.Apply(3, UsageGetCompass)
			So(sink.count(), ShouldEqual, 2)
		})
	})

	Convey("a nil sink is allowed", t, func() {
		stats := NewUsageStats(nil)
		stats.Apply(1, UsageGetYPR)
		So(stats.Usage(1), ShouldEqual, UsageGetYPR)
	})
}
