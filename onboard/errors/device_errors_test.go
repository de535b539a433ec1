package errors

import (
	"fmt"
	. "github.com/smartystreets/goconvey/convey"
	"testing"
)

func TestCode(t *testing.T) {
	Convey("nil resolves to OKAY", t, func() {
		So(Code(nil), ShouldEqual, OKAY)
	})

	Convey("error codes resolve to themselves", t, func() {
		So(Code(RxTimeout), ShouldEqual, RxTimeout)

		Convey("even when wrapped", func() {
			err := fmt.Errorf("reading general status: %w", SigNotUpdated)
			So(Code(err), ShouldEqual, SigNotUpdated)
			So(IsTimeout(err), ShouldBeTrue)
			So(IsNoComm(err), ShouldBeFalse)
		})
	})

	Convey("foreign errors resolve to GeneralError", t, func() {
		So(Code(fmt.Errorf("boom")), ShouldEqual, GeneralError)
	})

	Convey("messages carry the numeric value", t, func() {
		So(RxTimeout.Error(), ShouldContainSubstring, "(-3)")
		So(ErrorCode(-9999).Error(), ShouldContainSubstring, "unknown error")
	})
}

func TestTypedErrors(t *testing.T) {
	Convey("unsupported bus names the kind", t, func() {
		So(UnsupportedBusError{Kind: "socketcan"}.Error(), ShouldContainSubstring, "socketcan")
		So(UnsupportedBusError{}.Error(), ShouldContainSubstring, "UNKOWN")
	})

	Convey("unknown pigeon names the pigeon", t, func() {
		So(UnknownPigeonError{Name: "chassis"}.Error(), ShouldEqual, "no such pigeon chassis")
	})
}
