package cart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/Skotchmaster/muebleria/pkg/logging"
)

const (
	CookieName   = "carrito"
	CookieMaxAge = 30 * 24 * time.Hour
)

// CookieJar is the slice of a request/response pair the cookie store needs.
// echo.Context satisfies it.
type CookieJar interface {
	Cookie(name string) (*http.Cookie, error)
	SetCookie(cookie *http.Cookie)
}

// CookieStore keeps the cart in the "carrito" cookie. The whole array is
// rewritten on every mutation. One store lives for one request: reads after a
// write in the same request see the written value, not the request header.
type CookieStore struct {
	Jar    CookieJar
	Secure bool
	Now    func() time.Time

	lines  []Line
	loaded bool
}

func NewCookieStore(jar CookieJar, secure bool) *CookieStore {
	return &CookieStore{Jar: jar, Secure: secure, Now: time.Now}
}

func (s *CookieStore) load(ctx context.Context) []Line {
	if s.loaded {
		return s.lines
	}
	s.loaded = true

	ck, err := s.Jar.Cookie(CookieName)
	if err != nil || ck.Value == "" {
		s.lines = []Line{}
		return s.lines
	}

	lines, err := decodeLines(ck.Value)
	if err != nil {
		logging.FromContext(ctx).Warn("cart_cookie_malformed", "error", err)
		s.lines = []Line{}
		s.write()
		return s.lines
	}
	s.lines = lines
	return s.lines
}

// decodeLines drops entries that cannot be cart lines instead of failing the whole cookie.
func decodeLines(raw string) ([]Line, error) {
	if v, err := url.QueryUnescape(raw); err == nil {
		raw = v
	}
	var parsed []Line
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(parsed))
	for _, l := range parsed {
		if l.ProductID == uuid.Nil || l.Quantity <= 0 || l.Quantity > MaxQuantity {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func encodeLines(lines []Line) string {
	if lines == nil {
		lines = []Line{}
	}
	b, _ := json.Marshal(lines)
	return url.QueryEscape(string(b))
}

func (s *CookieStore) write() {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	s.Jar.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    encodeLines(s.lines),
		Path:     "/",
		Expires:  now().Add(CookieMaxAge),
		MaxAge:   int(CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *CookieStore) Lines(ctx context.Context) ([]Line, error) {
	lines := s.load(ctx)
	out := make([]Line, len(lines))
	copy(out, lines)
	return out, nil
}

func (s *CookieStore) Add(ctx context.Context, productID uuid.UUID, qty int) error {
	s.load(ctx)
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			s.lines[i].Quantity += qty
			s.write()
			return nil
		}
	}
	s.lines = append(s.lines, Line{ProductID: productID, Quantity: qty})
	s.write()
	return nil
}

func (s *CookieStore) Set(ctx context.Context, productID uuid.UUID, qty int) error {
	s.load(ctx)
	for i := range s.lines {
		if s.lines[i].ProductID == productID {
			s.lines[i].Quantity = qty
			s.write()
			return nil
		}
	}
	s.lines = append(s.lines, Line{ProductID: productID, Quantity: qty})
	s.write()
	return nil
}

func (s *CookieStore) Remove(ctx context.Context, productID uuid.UUID) error {
	s.load(ctx)
	kept := s.lines[:0]
	for _, l := range s.lines {
		if l.ProductID != productID {
			kept = append(kept, l)
		}
	}
	s.lines = kept
	s.write()
	return nil
}

func (s *CookieStore) Clear(ctx context.Context) error {
	s.loaded = true
	s.lines = []Line{}
	s.write()
	return nil
}
