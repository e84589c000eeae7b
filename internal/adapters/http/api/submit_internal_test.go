package api

import (
	"errors"
	"testing"

	"github.com/okian/trustgate/internal/adapters/mq/queue"
	"github.com/okian/trustgate/internal/app"
	. "github.com/smartystreets/goconvey/convey"
)

func TestGateFault(t *testing.T) {
	Convey("Given a gate error that is not a rejection", t, func() {
		Convey("When the dispatch queue was full", func() {
			err := gateFault("api.submit_contact", errors.Join(app.ErrDispatchBusy, queue.ErrFull))

			Convey("Then it is backpressure and keeps its causes", func() {
				So(errors.Is(err, ErrBackpressure), ShouldBeTrue)
				So(errors.Is(err, ErrInternal), ShouldBeFalse)
				So(errors.Is(err, queue.ErrFull), ShouldBeTrue)
				So(err.Error(), ShouldStartWith, "api.submit_contact: backpressure")
			})
		})

		Convey("When anything else failed", func() {
			err := gateFault("api.submit_contact", errors.New("boom"))

			Convey("Then it is internal", func() {
				So(errors.Is(err, ErrInternal), ShouldBeTrue)
				So(errors.Is(err, ErrBackpressure), ShouldBeFalse)
			})
		})
	})
}
