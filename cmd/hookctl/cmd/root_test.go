package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/austindbirch/hookline/internal/api"
	"github.com/austindbirch/hookline/internal/delivery"
	"github.com/austindbirch/hookline/internal/queue"
)

// resetCLI puts the global command tree and viper back to their defaults and
// points HOME at an empty directory.
func resetCLI(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	var reset func(c *cobra.Command)
	reset = func(c *cobra.Command) {
		for _, fs := range []*pflag.FlagSet{c.PersistentFlags(), c.Flags()} {
			fs.VisitAll(func(f *pflag.Flag) {
				_ = f.Value.Set(f.DefValue)
				f.Changed = false
			})
		}
		for _, sub := range c.Commands() {
			reset(sub)
		}
	}
	reset(rootCmd)

	viper.Reset()
	for _, key := range configKeys {
		_ = viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key))
	}
	return home
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	_, err := rootCmd.ExecuteC()
	return out.String(), err
}

func TestCheckJQAvailable(t *testing.T) {
	_, err := exec.LookPath("jq")
	want := err == nil
	if got := checkJQAvailable(); got != want {
		t.Errorf("checkJQAvailable() = %v, want %v", got, want)
	}
}

func TestFormatWithJQ(t *testing.T) {
	tests := []struct {
		name     string
		jsonData []byte
		wantErr  bool
	}{
		{name: "valid json", jsonData: []byte(`{"key":"value","number":42}`)},
		{name: "invalid json", jsonData: []byte(`{"key":"value",}`), wantErr: true},
		{name: "json array", jsonData: []byte(`[1,2,3]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !checkJQAvailable() {
				t.Skip("jq not available, skipping test")
			}
			got, err := formatWithJQ(tt.jsonData)
			if (err != nil) != tt.wantErr {
				t.Errorf("formatWithJQ() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && got == "" {
				t.Errorf("formatWithJQ() returned empty string for valid JSON")
			}
		})
	}
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "object", input: `{"emailId":"e_1","n":2}`, want: `{"emailId":"e_1","n":2}`},
		{name: "array", input: `[1,2]`, want: `[1,2]`},
		{name: "null", input: `null`, want: `null`},
		{name: "trailing comma", input: `{"a":1,}`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
		{name: "not json", input: `email.sent`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseJSON(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && string(got) != tt.want {
				t.Errorf("parseJSON() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPrintOutput(t *testing.T) {
	tests := []struct {
		name       string
		outputJSON bool
		data       any
		want       string
	}{
		{name: "plain struct", data: queue.Stats{Waiting: 2}, want: "{Waiting:2 Delayed:0 Active:0 Completed:0 Failed:0}\n"},
		{name: "json map", outputJSON: true, data: map[string]int{"n": 1}, want: "{\n  \"n\": 1\n}\n"},
		{name: "json slice", outputJSON: true, data: []string{"a"}, want: "[\n  \"a\"\n]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oldJSON, oldPretty := outputJSON, prettyJSON
			defer func() { outputJSON, prettyJSON = oldJSON, oldPretty }()
			outputJSON, prettyJSON = tt.outputJSON, false

			var buf bytes.Buffer
			printOutput(&buf, tt.data)
			if buf.String() != tt.want {
				t.Errorf("printOutput() = %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

func TestReadPayload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body.json")
	if err := os.WriteFile(path, []byte(`{"from":"file"}`), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    []string
		file    string
		stdin   string
		want    string
		wantErr bool
	}{
		{name: "positional", args: []string{`{"a":1}`}, want: `{"a":1}`},
		{name: "file wins over positional", args: []string{`{"a":1}`}, file: path, want: `{"from":"file"}`},
		{name: "stdin", file: "-", stdin: `{"from":"stdin"}`, want: `{"from":"stdin"}`},
		{name: "nothing", wantErr: true},
		{name: "missing file", file: filepath.Join(t.TempDir(), "nope.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &cobra.Command{}
			c.SetIn(strings.NewReader(tt.stdin))
			got, err := readPayload(c, tt.args, tt.file)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readPayload() error = %v, wantErr %v", err, tt.wantErr)
			}
			if string(got) != tt.want {
				t.Errorf("readPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToJobView(t *testing.T) {
	body, err := delivery.EncodeJob(delivery.Job{
		DeliveryID: "d1",
		TenantID:   "T",
		EndpointID: "E",
		EventType:  delivery.EventEmailSent,
		Payload:    json.RawMessage(`{}`),
		Attempt:    3,
	})
	if err != nil {
		t.Fatalf("EncodeJob() error = %v", err)
	}

	v := toJobView(queue.Record{Message: queue.Message{ID: "7", Body: body}, State: queue.StateFailed, FailedReason: "boom"})
	if v.ID != "7" || v.State != "failed" || v.EndpointID != "E" || v.Attempt != 3 || v.FailedReason != "boom" {
		t.Errorf("toJobView() = %+v", v)
	}

	// Undecodable bodies still list, just without job fields
	v = toJobView(queue.Record{Message: queue.Message{ID: "8", Body: []byte("junk")}, State: queue.StateFailed})
	if v.ID != "8" || v.EndpointID != "" {
		t.Errorf("toJobView() = %+v, want id only", v)
	}
}

func TestDispatchCommand(t *testing.T) {
	resetCLI(t)

	var got api.EventRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/events" {
			t.Errorf("request = %s %s, want POST /v1/events", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(api.EventResponse{Accepted: true, RequestID: "req-1"})
	}))
	defer srv.Close()

	out, err := execute(t, "", "dispatch", "--server", srv.URL, "T1", delivery.EventEmailSent, `{"emailId":"e_1"}`)
	if err != nil {
		t.Fatalf("dispatch error = %v", err)
	}
	if got.TenantID != "T1" || got.EventType != delivery.EventEmailSent || string(got.Payload) != `{"emailId":"e_1"}` {
		t.Errorf("server received %+v", got)
	}
	if !strings.Contains(out, "Event accepted") || !strings.Contains(out, "req-1") {
		t.Errorf("output = %q, want acceptance with request id", out)
	}
}

func TestDispatchCommand_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"tenant_id is required"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "invalid payload", args: []string{"T", "email.sent", `{bad`}, wantErr: "invalid payload"},
		{name: "missing payload", args: []string{"T", "email.sent"}, wantErr: "payload argument or --file"},
		{name: "server rejects", args: []string{"T", "email.sent", `{}`}, wantErr: "HTTP 400"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCLI(t)
			_, err := execute(t, "", append([]string{"dispatch", "--server", srv.URL}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("dispatch error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestEventTypesCommand(t *testing.T) {
	resetCLI(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"event_types":["email.sent","reply.received"]}`))
	}))
	defer srv.Close()

	out, err := execute(t, "", "event-types", "--server", srv.URL)
	if err != nil {
		t.Fatalf("event-types error = %v", err)
	}
	if out != "email.sent\nreply.received\n" {
		t.Errorf("output = %q", out)
	}
}

func TestSignAndVerifyCommands(t *testing.T) {
	body := `{"event":"email.sent","timestamp":"2024-05-01T12:00:00.000Z","data":{}}`
	want := delivery.SignatureHeaderValue(delivery.Sign([]byte(body), "s3cret"))

	resetCLI(t)
	out, err := execute(t, "", "sign", "--secret", "s3cret", body)
	if err != nil {
		t.Fatalf("sign error = %v", err)
	}
	if strings.TrimSpace(out) != want {
		t.Errorf("sign = %q, want %q", strings.TrimSpace(out), want)
	}

	tests := []struct {
		name    string
		secret  string
		sig     string
		wantErr error
	}{
		{name: "matching", secret: "s3cret", sig: want},
		{name: "wrong secret", secret: "other", sig: want, wantErr: ErrSignatureMismatch},
		{name: "missing prefix", secret: "s3cret", sig: strings.TrimPrefix(want, "sha256="), wantErr: ErrSignatureMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetCLI(t)
			// Payload via stdin exercises the same bytes path receivers see
			_, err := execute(t, body, "verify", "--secret", tt.secret, "--signature", tt.sig, "--file", "-")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("verify error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueueCommands(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx := context.Background()
	st, err := queue.NewRedisStore(client, "hookline", "deliver-webhook")
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	q, _ := queue.New(st)

	for _, ep := range []string{"E1", "E2"} {
		body, _ := delivery.EncodeJob(delivery.Job{DeliveryID: "d-" + ep, TenantID: "T", EndpointID: ep, EventType: delivery.EventEmailSent, Payload: json.RawMessage(`{}`), Attempt: 1})
		if _, err := q.Add(ctx, body, 0); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	if _, err := q.Add(ctx, []byte(`{}`), time.Hour); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	msg, err := st.Claim(ctx)
	if err != nil || msg == nil {
		t.Fatalf("Claim() = %v, %v", msg, err)
	}
	if err := st.Fail(ctx, msg, "delivery abandoned after 5 attempts"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}

	redisFlag := "redis://" + mr.Addr() + "/0"

	t.Run("stats", func(t *testing.T) {
		resetCLI(t)
		out, err := execute(t, "", "queue", "stats", "--redis", redisFlag, "--json")
		if err != nil {
			t.Fatalf("queue stats error = %v", err)
		}
		var stats queue.Stats
		if err := json.Unmarshal([]byte(out), &stats); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		want := queue.Stats{Waiting: 1, Delayed: 1, Failed: 1}
		if stats != want {
			t.Errorf("stats = %+v, want %+v", stats, want)
		}
	})

	t.Run("failed", func(t *testing.T) {
		resetCLI(t)
		out, err := execute(t, "", "queue", "failed", "--redis", redisFlag)
		if err != nil {
			t.Fatalf("queue failed error = %v", err)
		}
		if !strings.Contains(out, "1 failed jobs") || !strings.Contains(out, "abandoned after 5 attempts") {
			t.Errorf("output = %q", out)
		}
	})

	t.Run("list waiting json", func(t *testing.T) {
		resetCLI(t)
		out, err := execute(t, "", "queue", "list", "waiting", "--redis", redisFlag, "--json")
		if err != nil {
			t.Fatalf("queue list error = %v", err)
		}
		var views []jobView
		if err := json.Unmarshal([]byte(out), &views); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		if len(views) != 1 || views[0].EventType != delivery.EventEmailSent {
			t.Errorf("views = %+v, want one email.sent job", views)
		}
	})

	t.Run("invalid state", func(t *testing.T) {
		resetCLI(t)
		if _, err := execute(t, "", "queue", "list", "pending", "--redis", redisFlag); err == nil {
			t.Error("queue list pending error = nil, want error")
		}
	})

	t.Run("queue name isolates", func(t *testing.T) {
		resetCLI(t)
		out, err := execute(t, "", "queue", "stats", "--redis", redisFlag, "--queue-name", "other", "--json")
		if err != nil {
			t.Fatalf("queue stats error = %v", err)
		}
		var stats queue.Stats
		_ = json.Unmarshal([]byte(out), &stats)
		if stats != (queue.Stats{}) {
			t.Errorf("stats = %+v, want empty", stats)
		}
	})
}

func TestLogsCommand_UnreachableDatabase(t *testing.T) {
	resetCLI(t)
	_, err := execute(t, "", "logs", "wh_1", "--database", "postgres://u:p@127.0.0.1:1/x?sslmode=disable", "--timeout", "2s")
	if err == nil || !strings.Contains(err.Error(), "failed to connect to database") {
		t.Errorf("logs error = %v, want connect failure", err)
	}
}

func TestConfigCommands(t *testing.T) {
	home := resetCLI(t)
	path := filepath.Join(home, ".hookctl.yaml")

	if _, err := execute(t, "", "config", "init"); err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not created: %v", err)
	}
	if _, err := execute(t, "", "config", "init"); err == nil {
		t.Error("second config init error = nil, want already exists")
	}

	tests := []struct {
		name    string
		key     string
		value   string
		wantErr bool
		wantIn  string
	}{
		{name: "server", key: "server", value: "http://ingest:8080", wantIn: "server: http://ingest:8080"},
		{name: "bool", key: "json", value: "yes", wantIn: "json: true"},
		{name: "bad bool", key: "pretty", value: "maybe", wantErr: true},
		{name: "bad duration", key: "timeout", value: "soon", wantErr: true},
		{name: "unknown key", key: "http", value: "true", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, "", "config", "set", tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("config set error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			b, _ := os.ReadFile(path)
			if !strings.Contains(string(b), tt.wantIn) {
				t.Errorf("config file = %q, want containing %q", b, tt.wantIn)
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	resetCLI(t)
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "hookctl version "+Version) {
		t.Errorf("output = %q", out)
	}
}
