package users

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/config"
)

// maxResponseBytes bounds how much of a user-service response body we will
// ever read, the same defensive limit the teacher's HTTPFetcher applies to
// vCard downloads.
const maxResponseBytes = 8 << 20

// HTTPSource implements Source against the external user CRUD collaborator
// over HTTP, generalizing the teacher's HTTPFetcher (GET + scheme allow-list
// + size-limited body + sanitized-URL logging) to a small JSON read API.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource builds an HTTPSource reading baseURL from cfg.URL.
func NewHTTPSource(cfg config.UsersConfig) (*HTTPSource, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.TypeConfig, "invalid user service URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.Newf(apperr.TypeConfig, "user service URL must be http or https, got %q", u.Scheme)
	}

	return &HTTPSource{
		baseURL: cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type userDTO struct {
	ID              string  `json:"id"`
	FirstName       string  `json:"firstName"`
	LastName        string  `json:"lastName"`
	Email           string  `json:"email"`
	Timezone        string  `json:"timezone"`
	BirthdayDate    *string `json:"birthdayDate"`
	AnniversaryDate *string `json:"anniversaryDate"`
	DeletedAt       *string `json:"deletedAt"`
}

func (d userDTO) toUser() (User, error) {
	u := User{
		ID:        d.ID,
		FirstName: d.FirstName,
		LastName:  d.LastName,
		Email:     d.Email,
		Timezone:  d.Timezone,
	}
	var err error
	if u.BirthdayDate, err = parseNullableDate(d.BirthdayDate); err != nil {
		return User{}, err
	}
	if u.AnniversaryDate, err = parseNullableDate(d.AnniversaryDate); err != nil {
		return User{}, err
	}
	if u.DeletedAt, err = parseNullableDate(d.DeletedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func parseNullableDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		if t2, err2 := time.Parse("2006-01-02", *s); err2 == nil {
			return &t2, nil
		}
		return nil, apperr.Wrapf(err, apperr.TypeValidation, "INVALID_DATE").WithDetailsf("unparseable date %q", *s)
	}
	return &t, nil
}

func (s *HTTPSource) FindByID(ctx context.Context, id string) (*User, error) {
	var dto userDTO
	found, err := s.get(ctx, "/users/"+url.PathEscape(id), &dto)
	if err != nil || !found {
		return nil, err
	}
	u, err := dto.toUser()
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *HTTPSource) FindAll(ctx context.Context, filter Filter) ([]User, error) {
	q := url.Values{}
	if filter.Zone != nil {
		q.Set("zone", *filter.Zone)
	}
	if filter.RequireBirthday {
		q.Set("requireBirthday", "true")
	}
	if filter.RequireAnniversary {
		q.Set("requireAnniversary", "true")
	}
	return s.list(ctx, "/users?"+q.Encode())
}

func (s *HTTPSource) FindBirthdaysToday(ctx context.Context, zone *string) ([]User, error) {
	return s.listTrigger(ctx, "/users/birthdays-today", zone)
}

func (s *HTTPSource) FindAnniversariesToday(ctx context.Context, zone *string) ([]User, error) {
	return s.listTrigger(ctx, "/users/anniversaries-today", zone)
}

func (s *HTTPSource) listTrigger(ctx context.Context, path string, zone *string) ([]User, error) {
	q := url.Values{}
	if zone != nil {
		q.Set("zone", *zone)
	}
	full := path
	if enc := q.Encode(); enc != "" {
		full += "?" + enc
	}
	return s.list(ctx, full)
}

func (s *HTTPSource) list(ctx context.Context, path string) ([]User, error) {
	var dtos []userDTO
	if _, err := s.get(ctx, path, &dtos); err != nil {
		return nil, err
	}
	out := make([]User, 0, len(dtos))
	for _, d := range dtos {
		u, err := d.toUser()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// get issues a GET against baseURL+path and decodes the JSON body into dst.
// It returns found=false (no error) on a 404, matching how the core treats
// an absent user rather than treating it as a transient failure.
func (s *HTTPSource) get(ctx context.Context, path string, dst any) (bool, error) {
	full := s.baseURL + path
	safeURL := full
	if u, err := url.Parse(full); err == nil {
		safeURL = u.Scheme + "://" + u.Host + u.Path
	}

	log := slog.With(
		slog.String(config.LogKeyComponent, config.CompUsers),
		slog.String("url", safeURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
	if err != nil {
		return false, apperr.Wrap(err, apperr.TypeInternal, "failed to build user service request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, apperr.Wrap(err, apperr.TypeTransient, "user service request failed")
	}
	defer resp.Body.Close()

	body := io.LimitReader(resp.Body, maxResponseBytes)

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode >= 500 {
		log.Warn("user service returned server error", slog.Int(config.LogKeyStatus, resp.StatusCode))
		return false, apperr.Newf(apperr.TypeTransient, "user service status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return false, apperr.Newf(apperr.TypePermanent, "user service status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return false, apperr.Wrap(err, apperr.TypeInternal, "failed to decode user service response")
	}
	return true, nil
}
