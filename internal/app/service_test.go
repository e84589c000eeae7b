package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/okian/trustgate/internal/config"
	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type collectingNotifier struct {
	mu    sync.Mutex
	leads []model.Lead
}

func (n *collectingNotifier) Notify(_ context.Context, l model.Lead) error { //nolint:gocritic // hugeParam
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leads = append(n.leads, l)
	return nil
}

func (n *collectingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.leads)
}

func permissiveConfig() *config.Config {
	cfg := config.New()
	cfg.Posture = types.Permissive.String()
	cfg.DispatchWorkers = 1
	return cfg
}

func TestServiceSubmit(t *testing.T) {
	Convey("Given a permissive service over the memory store", t, func() {
		So(logger.Init(logger.WithWriter(io.Discard)), ShouldBeNil)
		ctx := context.Background()
		notifier := &collectingNotifier{}

		svc, err := New(ctx, permissiveConfig(), WithNotifier(notifier))
		So(err, ShouldBeNil)
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When a clean submission is accepted", func() {
			v, err := svc.Submit(ctx, types.EndpointContact, goodSubmission())
			So(err, ShouldBeNil)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then the lead is delivered once the queue drains", func() {
				So(notifier.count(), ShouldEqual, 1)
				So(notifier.leads[0].ID, ShouldEqual, v.Lead.ID)
			})
		})

		Convey("When a submission is rejected", func() {
			sub := goodSubmission()
			sub.Name = "SYFRxwxSpcYewlaZdaku"
			_, err := svc.Submit(ctx, types.EndpointContact, sub)
			So(svc.Stop(ctx), ShouldBeNil)

			Convey("Then nothing is dispatched", func() {
				So(errors.Is(err, ErrContentRejected), ShouldBeTrue)
				So(notifier.count(), ShouldEqual, 0)
			})
		})

		Convey("Then health reports the wiring", func() {
			h := svc.Health(ctx)
			So(h.Status, ShouldEqual, "ok")
			So(h.Posture, ShouldEqual, "permissive")
			So(h.RateStore, ShouldEqual, config.StoreMemory)
			So(h.Captcha, ShouldBeFalse)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestServiceBackpressure(t *testing.T) {
	Convey("Given a service whose dispatch queue holds one lead and is not drained", t, func() {
		So(logger.Init(logger.WithWriter(io.Discard)), ShouldBeNil)
		ctx := context.Background()
		cfg := permissiveConfig()
		cfg.DispatchQueueSize = 1

		svc, err := New(ctx, cfg)
		So(err, ShouldBeNil)

		_, first := svc.Submit(ctx, types.EndpointContact, goodSubmission())
		v, second := svc.Submit(ctx, types.EndpointContact, goodSubmission())

		Convey("Then the second accepted lead reports dispatch backpressure", func() {
			So(first, ShouldBeNil)
			So(errors.Is(second, ErrDispatchBusy), ShouldBeTrue)
			So(v.Lead.ID, ShouldNotBeEmpty)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestServiceStores(t *testing.T) {
	Convey("Given service configurations for each store", t, func() {
		So(logger.Init(logger.WithWriter(io.Discard)), ShouldBeNil)
		ctx := context.Background()

		Convey("When rate_store is none in a strict posture", func() {
			cfg := config.New()
			cfg.RateStore = config.StoreNone
			svc, err := New(ctx, cfg)
			So(err, ShouldBeNil)

			_, err = svc.Submit(ctx, types.EndpointContact, goodSubmission())

			Convey("Then submissions fail as misconfigured", func() {
				So(errors.Is(err, ErrConfigurationMissing), ShouldBeTrue)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When rate_store is sqlite", func() {
			cfg := permissiveConfig()
			cfg.RateStore = config.StoreSQLite
			cfg.SQLitePath = ":memory:"
			svc, err := New(ctx, cfg)
			So(err, ShouldBeNil)
			So(svc.Start(ctx), ShouldBeNil)

			Convey("Then the quota is enforced by the database", func() {
				for i := 0; i < 2; i++ {
					_, err := svc.Submit(ctx, types.EndpointConsultation, goodSubmission())
					So(err, ShouldBeNil)
				}
				_, err := svc.Submit(ctx, types.EndpointConsultation, goodSubmission())
				So(errors.Is(err, ErrRateLimited), ShouldBeTrue)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When rate_store is redis", func() {
			mr := miniredis.RunT(t)
			cfg := permissiveConfig()
			cfg.RateStore = config.StoreRedis
			cfg.RedisAddr = mr.Addr()
			cfg.Policies = map[string]config.PolicyConfig{"contact": {MaxRequests: 1, Window: time.Hour}}
			svc, err := New(ctx, cfg)
			So(err, ShouldBeNil)

			Convey("Then policy overrides apply", func() {
				_, err := svc.Submit(ctx, types.EndpointContact, goodSubmission())
				So(err, ShouldBeNil)
				_, err = svc.Submit(ctx, types.EndpointContact, goodSubmission())
				So(errors.Is(err, ErrRateLimited), ShouldBeTrue)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When redis is unreachable in a strict posture", func() {
			mr, err := miniredis.Run()
			So(err, ShouldBeNil)
			addr := mr.Addr()
			mr.Close()

			cfg := config.New()
			cfg.RateStore = config.StoreRedis
			cfg.RedisAddr = addr
			svc, err := New(ctx, cfg)

			Convey("Then the service starts but fails closed per attempt", func() {
				So(err, ShouldBeNil)
				_, err = svc.Submit(ctx, types.EndpointContact, goodSubmission())
				So(errors.Is(err, ErrVerificationUnavailable), ShouldBeTrue)
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})

		Convey("When a policy override names an unknown policy", func() {
			cfg := permissiveConfig()
			cfg.Policies = map[string]config.PolicyConfig{"newsletter": {MaxRequests: 1, Window: time.Hour}}
			_, err := New(ctx, cfg)

			So(err, ShouldNotBeNil)
		})
	})
}
