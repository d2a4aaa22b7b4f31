package service_test

import (
	"context"
	"testing"
	"time"

	service "github.com/okian/podium/internal/app"
	. "github.com/smartystreets/goconvey/convey"
)

func TestLoop(t *testing.T) {
	Convey("Given a loop with posted functions", t, func() {
		loop := service.NewLoop()
		var order []int
		So(loop.Post(func() { order = append(order, 1) }), ShouldBeTrue)
		So(loop.Post(func() {
			order = append(order, 2)
			loop.Post(func() { order = append(order, 3) })
		}), ShouldBeTrue)

		Convey("When drained", func() {
			ran := loop.Drain()

			Convey("Then everything ran in post order, including nested posts", func() {
				So(ran, ShouldEqual, 3)
				So(order, ShouldResemble, []int{1, 2, 3})
				So(loop.Drain(), ShouldEqual, 0)
			})
		})

		Convey("When closed", func() {
			loop.Close()

			Convey("Then new posts are refused but earlier ones still run", func() {
				So(loop.Post(func() {}), ShouldBeFalse)
				So(loop.Drain(), ShouldEqual, 2)
			})
		})
	})

	Convey("Given a running loop", t, func() {
		loop := service.NewLoop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopped := make(chan error, 1)
		go func() { stopped <- loop.Run(ctx) }()

		Convey("Then posts from other goroutines run on it and Close stops it", func() {
			ran := make(chan struct{})
			go loop.Post(func() { close(ran) })
			<-ran

			loop.Close()
			So(<-stopped, ShouldBeNil)
		})
	})

	Convey("Given a loop whose context ends", t, func() {
		loop := service.NewLoop()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then Run returns the context error", func() {
			So(loop.Run(ctx), ShouldEqual, context.Canceled)
		})
	})
}
