package e2e

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/webgate-io/webgate/internal/config"
)

var _ = Describe("Basic login", func() {
	It("returns creds, sets a cookie, and registers the session", func() {
		srv := startGateway(func(cfg *config.Config) {
			cfg.Types["basic"] = config.TypeConfig{Command: successHelper}
		})
		defer srv.Close()

		resp := postLogin(srv, basicAuth("user", "pwd"))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		cookie := sessionCookie(resp)
		Expect(cookie).To(HavePrefix("cockpit="))

		encoded := cookie[len("cockpit="):]
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(decoded)).To(HavePrefix("v=2;k="))

		body := decodeBody(resp)
		Expect(body["user"]).To(Equal("user"))
		Expect(body["csrf-token"]).NotTo(BeEmpty())

		sess := getWithCookie(srv, "/session", cookie)
		defer sess.Body.Close()
		Expect(sess.StatusCode).To(Equal(http.StatusOK))

		Expect(loadCounters(srv)["sessions"]).To(Equal(1.0))
		Expect(loadCounters(srv)["startups"]).To(Equal(0.0))
	})
})

var _ = Describe("Basic login failure", func() {
	It("rejects with 401 and leaves no state behind", func() {
		srv := startGateway(func(cfg *config.Config) {
			cfg.Types["basic"] = config.TypeConfig{Command: failHelper}
		})
		defer srv.Close()

		resp := postLogin(srv, basicAuth("user", "wrong"))
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(resp.Header.Get("Set-Cookie")).To(BeEmpty())

		counters := loadCounters(srv)
		Expect(counters["sessions"]).To(Equal(0.0))
		Expect(counters["pending"]).To(Equal(0.0))
		Expect(counters["startups"]).To(Equal(0.0))
	})
})

var _ = Describe("Negotiate when GSSAPI is unavailable", func() {
	It("spawns the helper once, then short-circuits later attempts", func() {
		countFile := filepath.Join(helperDir, fmt.Sprintf("negotiate-count-%d", GinkgoParallelProcess()))
		Expect(os.WriteFile(countFile, nil, 0o644)).To(Succeed())
		unavailable := writeHelperWrapper("unavailable", map[string]string{
			"WEBGATE_FAKE_HELPER_COUNT": countFile,
		})

		srv := startGateway(func(cfg *config.Config) {
			cfg.Types["negotiate"] = config.TypeConfig{Command: unavailable}
		})
		defer srv.Close()

		// First contact with no Authorization header is treated as
		// negotiate and reaches the helper.
		resp := postLogin(srv, "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		// The unavailable verdict is sticky: the second attempt must not
		// launch the helper again.
		resp = postLogin(srv, "")
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		data, err := os.ReadFile(countFile)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(data)).To(Equal("run\n"))
	})
})

var _ = Describe("Prompt and resume", func() {
	It("round-trips a multi-step dialogue through X-Login-Reply", func() {
		srv := startGateway(func(cfg *config.Config) {
			cfg.Types["basic"] = config.TypeConfig{Command: promptHelper}
		})
		defer srv.Close()

		resp := postLogin(srv, basicAuth("user", "pwd"))
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		id, prompt := parseLoginReplyChallenge(resp)
		Expect(id).NotTo(BeEmpty())
		Expect(prompt).To(Equal("Token?"))
		body := decodeBody(resp)
		Expect(body["prompt"]).To(Equal("Token?"))

		Expect(loadCounters(srv)["pending"]).To(Equal(1.0))

		reply := "X-Login-Reply " + id + " " + base64.StdEncoding.EncodeToString([]byte("123456"))
		resp = postLogin(srv, reply)
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		cookie := sessionCookie(resp)
		body = decodeBody(resp)
		Expect(body["user"]).To(Equal("user"))

		sess := getWithCookie(srv, "/session", cookie)
		sess.Body.Close()
		Expect(sess.StatusCode).To(Equal(http.StatusOK))

		Expect(loadCounters(srv)["pending"]).To(Equal(0.0))
	})

	It("rejects a resume token for an unknown dialogue", func() {
		srv := startGateway(nil)
		defer srv.Close()

		reply := "X-Login-Reply no-such-id " + base64.StdEncoding.EncodeToString([]byte("123456"))
		resp := postLogin(srv, reply)
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))

		raw, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("Invalid resume token"))
	})
})

var _ = Describe("Admission throttle", func() {
	It("drops a second concurrent attempt past the hard limit", func() {
		srv := startGateway(func(cfg *config.Config) {
			cfg.MaxStartups = config.MaxStartups{Begin: 1, Rate: 100, Max: 1}
			cfg.Types["basic"] = config.TypeConfig{Command: slowHelper}
		})
		defer srv.Close()

		firstDone := make(chan int, 1)
		go func() {
			defer GinkgoRecover()
			resp := postLogin(srv, basicAuth("user", "pwd"))
			resp.Body.Close()
			firstDone <- resp.StatusCode
		}()

		// Wait until the first attempt is actually in flight.
		Eventually(func() float64 {
			return loadCounters(srv)["startups"]
		}).WithTimeout(5 * time.Second).WithPolling(50 * time.Millisecond).Should(Equal(1.0))

		resp := postLogin(srv, basicAuth("other", "pwd"))
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))
		Expect(string(raw)).To(ContainSubstring("Connection closed by host"))

		Eventually(firstDone).WithTimeout(10 * time.Second).Should(Receive(Equal(http.StatusOK)))

		// Every begin/finish pair restores the in-flight count.
		Eventually(func() float64 {
			return loadCounters(srv)["startups"]
		}).WithTimeout(5 * time.Second).Should(Equal(0.0))
	})
})

var _ = Describe("Idle session expiry", func() {
	It("removes a session that stays idle past the service timeout", func() {
		srv := startGateway(func(cfg *config.Config) {
			cfg.ServiceIdle = 500 * time.Millisecond
			cfg.ProcessIdle = 5 * time.Second
			cfg.Types["basic"] = config.TypeConfig{Command: successHelper}
		})
		defer srv.Close()

		resp := postLogin(srv, basicAuth("user", "pwd"))
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		cookie := sessionCookie(resp)
		resp.Body.Close()

		// The session never attaches a bridge, so it stays idling and the
		// idle timer removes it.
		Eventually(func() int {
			check := getWithCookie(srv, "/session", cookie)
			check.Body.Close()
			return check.StatusCode
		}).WithTimeout(5 * time.Second).WithPolling(100 * time.Millisecond).Should(Equal(http.StatusUnauthorized))

		Expect(loadCounters(srv)["sessions"]).To(Equal(0.0))
	})
})
