// Package vaulttest provides an in-memory Vault HTTP API for tests.
//
// The server speaks the subset of the API the gateway uses: KV v2 data and
// metadata, transit keys with encrypt and decrypt, database credentials,
// lease renew/revoke/lookup, token self-lookup and self-renewal, and
// sys/health. Responses follow Vault's status codes and error strings so
// client-side classification can be exercised without a real Vault.
package vaulttest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// DefaultToken is the token accepted by a server created without WithToken.
const DefaultToken = "test-root-token"

// Server is a fake Vault server.
type Server struct {
	srv *httptest.Server

	mu        sync.Mutex
	token     string
	tokenTTL  time.Duration
	renewable bool
	kv        map[string]*kvEntry
	keys      map[string]int
	roles     map[string]Role
	leases    map[string]*lease
	leaseSeq  int
	requests  map[string]int
	failures  []*failure
	denied    []denial
	now       func() time.Time
}

type denial struct {
	method string
	prefix string
}

// Role is a database role served under database/creds.
type Role struct {
	TTL       time.Duration
	Renewable bool
}

type kvEntry struct {
	data    map[string]interface{}
	version int
	deleted bool
	created time.Time
	updated time.Time
}

type lease struct {
	id        string
	renewable bool
	issued    time.Time
	renewed   *time.Time
	expires   time.Time
}

type failure struct {
	prefix    string
	remaining int
	status    int
	messages  []string
}

// Option configures a Server.
type Option func(*Server)

// WithToken sets the accepted client token.
func WithToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// WithTokenTTL sets the TTL and renewability reported for the client token.
// A zero TTL means the token never expires.
func WithTokenTTL(ttl time.Duration, renewable bool) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
		s.renewable = renewable
	}
}

// WithRole adds a database role.
func WithRole(name string, role Role) Option {
	return func(s *Server) {
		s.roles[name] = role
	}
}

// NewServer starts a fake Vault server and closes it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		token:    DefaultToken,
		kv:       make(map[string]*kvEntry),
		keys:     make(map[string]int),
		roles:    make(map[string]Role),
		leases:   make(map[string]*lease),
		requests: make(map[string]int),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.srv = httptest.NewServer(http.HandlerFunc(s.serveHTTP))
	t.Cleanup(s.srv.Close)
	return s
}

// Address returns the base URL of the server.
func (s *Server) Address() string {
	return s.srv.URL
}

// Token returns the accepted client token.
func (s *Server) Token() string {
	return s.token
}

// Close stops the server. Later calls observe connection failures.
func (s *Server) Close() {
	s.srv.Close()
}

// FailNext makes the next n requests whose path starts with prefix answer
// status with the given error messages. prefix is relative to /v1/.
func (s *Server) FailNext(prefix string, n, status int, messages ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, &failure{prefix: prefix, remaining: n, status: status, messages: messages})
}

// Deny answers 403 "permission denied" to every later request with method
// whose path starts with prefix, as a policy without that capability would.
// Listing uses the method "LIST".
func (s *Server) Deny(method, prefix string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.denied = append(s.denied, denial{method: method, prefix: prefix})
}

// Requests returns how many requests reached method and path. Listing is
// counted under the method "LIST".
func (s *Server) Requests(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[method+" "+path]
}

// PutSecret seeds a KV v2 entry under the "secret" mount.
func (s *Server) PutSecret(path string, data map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeSecret(path, data)
}

// Secret returns the current value of a KV entry and whether it exists.
func (s *Server) Secret(path string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[path]
	if !ok || e.deleted {
		return nil, false
	}
	return e.data, true
}

// KeyVersion returns the latest version of a transit key, zero if absent.
func (s *Server) KeyVersion(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[name]
}

// LeaseActive reports whether a lease is known and unrevoked.
func (s *Server) LeaseActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.leases[id]
	return ok
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/")
	method := r.Method
	if method == "LIST" || (method == http.MethodGet && r.URL.Query().Get("list") == "true") {
		method = "LIST"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[method+" "+path]++

	if path != "sys/health" && r.Header.Get("X-Vault-Token") != s.token {
		writeErrors(w, http.StatusForbidden, "permission denied")
		return
	}
	for _, d := range s.denied {
		if d.method == method && strings.HasPrefix(path, d.prefix) {
			writeErrors(w, http.StatusForbidden, "permission denied")
			return
		}
	}

	if f := s.takeFailure(path); f != nil {
		writeErrors(w, f.status, f.messages...)
		return
	}

	var body map[string]interface{}
	if r.Body != nil && r.ContentLength != 0 {
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil && r.ContentLength > 0 {
			writeErrors(w, http.StatusBadRequest, "failed to parse JSON input: "+err.Error())
			return
		}
	}

	switch {
	case path == "sys/health":
		s.health(w)
	case strings.HasPrefix(path, "secret/data/"):
		s.kvData(w, method, strings.TrimPrefix(path, "secret/data/"), body)
	case path == "secret/metadata" || strings.HasPrefix(path, "secret/metadata/"):
		s.kvMetadata(w, method, strings.Trim(strings.TrimPrefix(path, "secret/metadata"), "/"))
	case strings.HasPrefix(path, "transit/"):
		s.transit(w, method, strings.TrimPrefix(path, "transit/"), body)
	case strings.HasPrefix(path, "database/creds/"):
		s.creds(w, method, strings.TrimPrefix(path, "database/creds/"))
	case strings.HasPrefix(path, "sys/leases/"):
		s.leaseOp(w, strings.TrimPrefix(path, "sys/leases/"), body)
	case path == "auth/token/lookup-self":
		s.lookupSelf(w)
	case path == "auth/token/renew-self":
		s.renewSelf(w, body)
	default:
		writeErrors(w, http.StatusNotFound, "no handler for route \""+path+"\"")
	}
}

func (s *Server) takeFailure(path string) *failure {
	for i, f := range s.failures {
		if !strings.HasPrefix(path, f.prefix) {
			continue
		}
		f.remaining--
		if f.remaining <= 0 {
			s.failures = append(s.failures[:i], s.failures[i+1:]...)
		}
		return f
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"initialized":                  true,
		"sealed":                       false,
		"standby":                      false,
		"performance_standby":          false,
		"replication_performance_mode": "disabled",
		"replication_dr_mode":          "disabled",
		"server_time_utc":              s.now().Unix(),
		"version":                      "1.15.4",
		"cluster_name":                 "vault-cluster-test",
		"cluster_id":                   "00000000-0000-0000-0000-000000000000",
	})
}

func (s *Server) writeSecret(path string, data map[string]interface{}) *kvEntry {
	now := s.now().UTC()
	e, ok := s.kv[path]
	if !ok {
		e = &kvEntry{created: now}
		s.kv[path] = e
	}
	e.data = data
	e.version++
	e.deleted = false
	e.updated = now
	return e
}

func (s *Server) kvData(w http.ResponseWriter, method, path string, body map[string]interface{}) {
	switch method {
	case http.MethodGet:
		e, ok := s.kv[path]
		if !ok {
			writeErrors(w, http.StatusNotFound)
			return
		}
		if e.deleted {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{
				"data": map[string]interface{}{"data": nil, "metadata": versionMetadata(e)},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"data": map[string]interface{}{"data": e.data, "metadata": versionMetadata(e)},
		})
	case http.MethodPost, http.MethodPut:
		data, ok := body["data"].(map[string]interface{})
		if !ok {
			writeErrors(w, http.StatusBadRequest, "no data provided")
			return
		}
		e := s.writeSecret(path, data)
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": versionMetadata(e)})
	case http.MethodDelete:
		if e, ok := s.kv[path]; ok {
			e.deleted = true
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

func versionMetadata(e *kvEntry) map[string]interface{} {
	return map[string]interface{}{
		"version":       e.version,
		"created_time":  e.updated.Format(time.RFC3339Nano),
		"deletion_time": "",
		"destroyed":     false,
	}
}

func (s *Server) kvMetadata(w http.ResponseWriter, method, path string) {
	switch method {
	case "LIST":
		keys := s.children(path)
		if len(keys) == 0 {
			writeErrors(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"keys": keys}})
	case http.MethodGet:
		e, ok := s.kv[path]
		if !ok {
			writeErrors(w, http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"current_version": e.version,
			"oldest_version":  1,
			"created_time":    e.created.Format(time.RFC3339Nano),
			"updated_time":    e.updated.Format(time.RFC3339Nano),
			"max_versions":    0,
		}})
	case http.MethodDelete:
		delete(s.kv, path)
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

// children returns immediate child names of path in reverse order, leaving
// sorting to the client.
func (s *Server) children(path string) []string {
	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	seen := make(map[string]struct{})
	for p := range s.kv {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if i := strings.Index(rest, "/"); i >= 0 {
			rest = rest[:i+1]
		}
		seen[rest] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))
	return keys
}

func (s *Server) transit(w http.ResponseWriter, method, path string, body map[string]interface{}) {
	parts := strings.Split(path, "/")
	switch {
	case len(parts) == 2 && parts[0] == "keys":
		s.transitKey(w, method, parts[1])
	case len(parts) == 3 && parts[0] == "keys" && parts[2] == "rotate":
		version, ok := s.keys[parts[1]]
		if !ok {
			writeErrors(w, http.StatusBadRequest, "encryption key not found")
			return
		}
		s.keys[parts[1]] = version + 1
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 2 && parts[0] == "encrypt":
		s.encrypt(w, parts[1], body)
	case len(parts) == 2 && parts[0] == "decrypt":
		s.decrypt(w, parts[1], body)
	default:
		writeErrors(w, http.StatusNotFound, "no handler for route \"transit/"+path+"\"")
	}
}

func (s *Server) transitKey(w http.ResponseWriter, method, name string) {
	switch method {
	case http.MethodGet:
		version, ok := s.keys[name]
		if !ok {
			writeErrors(w, http.StatusNotFound)
			return
		}
		versions := make(map[string]int64, version)
		for v := 1; v <= version; v++ {
			versions[strconv.Itoa(v)] = s.now().Unix()
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"name":                   name,
			"type":                   "aes256-gcm96",
			"latest_version":         version,
			"min_decryption_version": 1,
			"min_encryption_version": 0,
			"deletion_allowed":       false,
			"exportable":             false,
			"keys":                   versions,
		}})
	case http.MethodPost, http.MethodPut:
		if _, ok := s.keys[name]; !ok {
			s.keys[name] = 1
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
	}
}

// encrypt produces "vault:v<version>:" followed by an encoding that binds
// the key name. It is not encryption; it only lets decrypt reject tokens
// minted by another key.
func (s *Server) encrypt(w http.ResponseWriter, name string, body map[string]interface{}) {
	plaintext, _ := body["plaintext"].(string)
	if _, err := base64.StdEncoding.DecodeString(plaintext); err != nil {
		writeErrors(w, http.StatusBadRequest, "failed to base64-decode plaintext")
		return
	}
	version, ok := s.keys[name]
	if !ok {
		version = 1
		s.keys[name] = version
	}
	payload := base64.StdEncoding.EncodeToString([]byte(name + ":" + plaintext))
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
		"ciphertext":  fmt.Sprintf("vault:v%d:%s", version, payload),
		"key_version": version,
	}})
}

func (s *Server) decrypt(w http.ResponseWriter, name string, body map[string]interface{}) {
	latest, ok := s.keys[name]
	if !ok {
		writeErrors(w, http.StatusBadRequest, "encryption key not found")
		return
	}
	ciphertext, _ := body["ciphertext"].(string)
	rest := strings.TrimPrefix(ciphertext, "vault:v")
	if rest == ciphertext {
		writeErrors(w, http.StatusBadRequest, "invalid ciphertext: no prefix")
		return
	}
	versionText, payload, found := strings.Cut(rest, ":")
	version, err := strconv.Atoi(versionText)
	if !found || err != nil {
		writeErrors(w, http.StatusBadRequest, "invalid ciphertext: could not parse version")
		return
	}
	if version < 1 || version > latest {
		writeErrors(w, http.StatusBadRequest, "invalid key version")
		return
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		writeErrors(w, http.StatusBadRequest, "invalid ciphertext: could not decode")
		return
	}
	keyName, plaintext, found := strings.Cut(string(raw), ":")
	if !found || keyName != name {
		writeErrors(w, http.StatusBadRequest, "cipher: message authentication failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{"plaintext": plaintext}})
}

func (s *Server) creds(w http.ResponseWriter, method, role string) {
	if method != http.MethodGet {
		writeErrors(w, http.StatusMethodNotAllowed, "unsupported operation")
		return
	}
	def, ok := s.roles[role]
	if !ok {
		writeErrors(w, http.StatusBadRequest, "unknown role: "+role)
		return
	}

	s.leaseSeq++
	now := s.now().UTC()
	id := fmt.Sprintf("database/creds/%s/lease%04d", role, s.leaseSeq)
	s.leases[id] = &lease{id: id, renewable: def.Renewable, issued: now, expires: now.Add(def.TTL)}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"lease_id":       id,
		"lease_duration": int64(def.TTL / time.Second),
		"renewable":      def.Renewable,
		"data": map[string]interface{}{
			"username": fmt.Sprintf("v-%s-%04d", role, s.leaseSeq),
			"password": fmt.Sprintf("A1a-%08d", s.leaseSeq),
		},
	})
}

func (s *Server) leaseOp(w http.ResponseWriter, op string, body map[string]interface{}) {
	id, _ := body["lease_id"].(string)
	l, ok := s.leases[id]
	now := s.now().UTC()
	if ok && now.After(l.expires) {
		delete(s.leases, id)
		ok = false
	}

	switch op {
	case "renew":
		if !ok {
			writeErrors(w, http.StatusBadRequest, "lease not found")
			return
		}
		if !l.renewable {
			writeErrors(w, http.StatusBadRequest, "lease is not renewable")
			return
		}
		ttl := l.expires.Sub(l.issued)
		if n, ok := body["increment"].(json.Number); ok {
			if secs, err := n.Int64(); err == nil && secs > 0 {
				ttl = time.Duration(secs) * time.Second
			}
		}
		l.renewed = &now
		l.expires = now.Add(ttl)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"lease_id":       id,
			"lease_duration": int64(ttl / time.Second),
			"renewable":      true,
			"data":           nil,
		})
	case "revoke":
		delete(s.leases, id)
		w.WriteHeader(http.StatusNoContent)
	case "lookup":
		if !ok {
			writeErrors(w, http.StatusBadRequest, "invalid lease")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
			"id":           id,
			"issue_time":   l.issued.Format(time.RFC3339Nano),
			"expire_time":  l.expires.Format(time.RFC3339Nano),
			"last_renewal": formatOptional(l.renewed),
			"renewable":    l.renewable,
			"ttl":          int64(l.expires.Sub(now) / time.Second),
		}})
	default:
		writeErrors(w, http.StatusNotFound, "no handler for route \"sys/leases/"+op+"\"")
	}
}

func formatOptional(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func (s *Server) lookupSelf(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": map[string]interface{}{
		"id":        s.token,
		"ttl":       int64(s.tokenTTL / time.Second),
		"renewable": s.renewable,
		"policies":  []string{"root"},
	}})
}

func (s *Server) renewSelf(w http.ResponseWriter, body map[string]interface{}) {
	if !s.renewable {
		writeErrors(w, http.StatusBadRequest, "lease is not renewable")
		return
	}
	ttl := s.tokenTTL
	if n, ok := body["increment"].(json.Number); ok {
		if secs, err := n.Int64(); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"auth": map[string]interface{}{
		"client_token":   s.token,
		"lease_duration": int64(ttl / time.Second),
		"renewable":      true,
	}})
}

func writeErrors(w http.ResponseWriter, status int, messages ...string) {
	if messages == nil {
		messages = []string{}
	}
	writeJSON(w, status, map[string]interface{}{"errors": messages})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
