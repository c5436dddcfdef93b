package e2e

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/webgate-io/webgate/internal/authcore"
	"github.com/webgate-io/webgate/internal/config"
	"github.com/webgate-io/webgate/internal/gateway"
	"github.com/webgate-io/webgate/internal/server"
)

// startGateway builds a full in-process gateway (manager, rate limiter,
// HTTP handler chain) around a fresh config and returns the test server.
// mutate adjusts the config before the manager is built.
func startGateway(mutate func(*config.Config)) *httptest.Server {
	cfg := &config.Config{
		ProcessTimeout:  30 * time.Second,
		ResponseTimeout: 30 * time.Second,
		ServiceIdle:     time.Hour,
		ProcessIdle:     time.Hour,
		MaxStartups:     config.MaxStartups{Begin: 10, Rate: 30, Max: 100},
		Types:           map[string]config.TypeConfig{},
	}
	if mutate != nil {
		mutate(cfg)
	}

	manager, err := authcore.NewManager(cfg, false, nil)
	Expect(err).NotTo(HaveOccurred())

	app := &server.App{
		Manager: manager,
		Gateway: gateway.NewHandler(gateway.Config{RateLimiter: gateway.NewRateLimiter(1000, 1000)}),
		Config:  cfg,
	}
	return httptest.NewServer(app.Handler())
}

func basicAuth(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}

// postLogin issues one POST /login with the given Authorization header
// (empty string means none) and returns the response.
func postLogin(srv *httptest.Server, authorization string) *http.Response {
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/login", nil)
	Expect(err).NotTo(HaveOccurred())
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	resp, err := srv.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

// sessionCookie extracts the "<application>=<value>" pair from a login
// response's Set-Cookie header, for replaying on later requests.
func sessionCookie(resp *http.Response) string {
	setCookie := resp.Header.Get("Set-Cookie")
	Expect(setCookie).NotTo(BeEmpty(), "expected a Set-Cookie header")
	return strings.SplitN(setCookie, ";", 2)[0]
}

// getWithCookie issues a GET with the given Cookie header value.
func getWithCookie(srv *httptest.Server, path, cookie string) *http.Response {
	req, err := http.NewRequest(http.MethodGet, srv.URL+path, nil)
	Expect(err).NotTo(HaveOccurred())
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
	resp, err := srv.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	return resp
}

// loadCounters fetches /api/load and decodes the live counters.
func loadCounters(srv *httptest.Server) map[string]float64 {
	resp, err := srv.Client().Get(srv.URL + "/api/load")
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	var raw map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&raw)).To(Succeed())
	out := map[string]float64{}
	for k, v := range raw {
		if f, ok := v.(float64); ok {
			out[k] = f
		}
	}
	return out
}

// decodeBody decodes a JSON response body into a generic map.
func decodeBody(resp *http.Response) map[string]any {
	defer resp.Body.Close()
	var body map[string]any
	Expect(json.NewDecoder(resp.Body).Decode(&body)).To(Succeed())
	return body
}

// parseLoginReplyChallenge splits "X-Login-Reply <id> <b64prompt>" from a
// WWW-Authenticate header into its id and decoded prompt.
func parseLoginReplyChallenge(resp *http.Response) (id, prompt string) {
	for _, v := range resp.Header.Values("WWW-Authenticate") {
		fields := strings.Fields(v)
		if len(fields) == 3 && strings.EqualFold(fields[0], "X-Login-Reply") {
			decoded, err := base64.StdEncoding.DecodeString(fields[2])
			Expect(err).NotTo(HaveOccurred())
			return fields[1], string(decoded)
		}
	}
	Fail("no X-Login-Reply challenge in WWW-Authenticate headers")
	return "", ""
}
