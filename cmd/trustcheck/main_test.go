package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func execute(args ...string) (string, error) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestQualityCommands(t *testing.T) {
	Convey("Given the content command", t, func() {
		Convey("When the message is a normal enquiry", func() {
			out, err := execute("content", "Hi, I am interested in the three bedroom house on Elm Street. Could we schedule a viewing next week?")

			Convey("Then it is acceptable", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "acceptable: true")
			})
		})

		Convey("When the message only stuffs spam keywords", func() {
			out, err := execute("content", "Buy cheap viagra and cialis at our pharmacy, casino bonus, click here, act now")

			Convey("Then the capped keyword penalty is flagged but not fatal", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "score:      40")
				So(out, ShouldContainSubstring, "acceptable: true")
				So(out, ShouldContainSubstring, "flags:      spam_keywords")
				So(out, ShouldNotContainSubstring, "reason:")
			})
		})

		Convey("When spam keywords come with a pile of links", func() {
			out, err := execute("content", "Buy cheap viagra and cialis at our pharmacy, casino bonus https://a.com https://b.com https://c.com https://d.com")

			Convey("Then it is rejected with the heaviest reason", func() {
				So(err, ShouldBeNil)
				So(out, ShouldContainSubstring, "score:      0")
				So(out, ShouldContainSubstring, "acceptable: false")
				So(out, ShouldContainSubstring, "flags:      spam_keywords, url_density")
				So(out, ShouldContainSubstring, "reason:     Text looks like promotional content.")
			})
		})

		Convey("When no text is given", func() {
			_, err := execute("content")
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Given the name command with JSON output", t, func() {
		out, err := execute("name", "--format", "json", "   ")

		Convey("Then the result decodes", func() {
			So(err, ShouldBeNil)
			var res struct {
				Acceptable bool
				Flags      []string
			}
			So(json.Unmarshal([]byte(out), &res), ShouldBeNil)
			So(res.Acceptable, ShouldBeFalse)
			So(res.Flags, ShouldResemble, []string{"empty"})
		})
	})
}

func TestTrustCommand(t *testing.T) {
	Convey("Given full telemetry", t, func() {
		out, err := execute("trust", "--time-spent", "60", "--behavior", "100", "--validation", "25", "--honeypot-clean")

		Convey("Then the submission is allowed", func() {
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "score:          100")
			So(out, ShouldContainSubstring, "recommendation: allow")
		})
	})

	Convey("Given only a clean honeypot", t, func() {
		out, err := execute("trust", "--honeypot-clean")

		Convey("Then it is blocked", func() {
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "risk:           high")
			So(out, ShouldContainSubstring, "recommendation: block")
		})
	})
}

func TestProbeCommand(t *testing.T) {
	Convey("Given a service that rejects every submission", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.Header().Set("X-RateLimit-Limit", "3")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"success":false,"code":"rate_limited"}`)
		}))
		defer srv.Close()

		out, err := execute("probe", "--url", srv.URL, "--endpoint", "wizard", "-n", "4", "-w", "2")

		Convey("Then the tally is printed", func() {
			So(err, ShouldBeNil)
			So(out, ShouldContainSubstring, "sent:     4")
			So(out, ShouldContainSubstring, "status 429: 4")
			So(out, ShouldContainSubstring, "code rate_limited: 4")
			So(out, ShouldContainSubstring, "retry:    60s")
		})
	})

	Convey("Given nothing listening", t, func() {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		_, err := execute("probe", "--url", url, "--timeout", "1s")

		Convey("Then the command fails", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
