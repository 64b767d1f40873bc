package services

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"campusmarket/internal/models"
	"campusmarket/internal/store"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RequestService struct {
	Store      *store.Store
	Acceptance *AcceptanceService
	Notifier   Notifier
	Push       Broadcaster
	Images     ImageStore
	Log        *zap.Logger
	DailyLimit int
	DefaultTTL time.Duration
}

type CreateRequestInput struct {
	Title        string                  `json:"title"`
	Description  string                  `json:"description"`
	CategoryID   *string                 `json:"category"`
	CampusID     *string                 `json:"campus"`
	DesiredPrice decimal.Decimal         `json:"desiredPrice"`
	Priority     models.Priority         `json:"priority"`
	Tags         []string                `json:"tags"`
	Location     string                  `json:"location"`
	ExpiresAt    *time.Time              `json:"expiresAt"`
	Images       []string                `json:"images"`
	Settings     *models.RequestSettings `json:"settings"`
}

func (s *RequestService) Create(ctx context.Context, caller models.Caller, in CreateRequestInput) (*models.Request, error) {
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if err := models.ValidateRequestFields(in.Title, in.DesiredPrice, in.Priority, len(in.Images)); err != nil {
		return nil, translate(err, "request")
	}
	if err := validateImageURLs(in.Images); err != nil {
		return nil, err
	}
	if err := validIDs(optRef("category", in.CategoryID), optRef("campus", in.CampusID)); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	expires := now.Add(s.defaultTTL())
	if in.ExpiresAt != nil {
		expires = in.ExpiresAt.UTC()
		if !expires.After(now) {
			return nil, invalid("expiresAt must be in the future")
		}
		if expires.After(now.Add(models.MaxRequestLifetime)) {
			return nil, invalid("expiresAt cannot be more than 365 days away")
		}
	}

	if s.DailyLimit > 0 {
		n, err := s.Store.CountRequestsSince(ctx, caller.UserID, now.Add(-24*time.Hour))
		if err != nil {
			return nil, internal("count requests", err)
		}
		if n >= s.DailyLimit {
			return nil, &Error{Kind: KindRateLimited, Message: fmt.Sprintf("you can create at most %d requests per day", s.DailyLimit)}
		}
	}

	campus := in.CampusID
	if campus == nil && caller.CampusID != "" {
		c := caller.CampusID
		campus = &c
	}
	settings := models.DefaultRequestSettings()
	if in.Settings != nil {
		settings = *in.Settings
	}

	r := &models.Request{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		CategoryID:   in.CategoryID,
		RequesterID:  caller.UserID,
		CampusID:     campus,
		Status:       models.RequestOpen,
		DesiredPrice: in.DesiredPrice,
		Priority:     in.Priority,
		Tags:         in.Tags,
		Location:     in.Location,
		ExpiresAt:    expires,
		Images:       in.Images,
		Settings:     settings,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.History = []models.HistoryEntry{models.NewHistoryEntry("created", caller.UserID, "request created", nil, r.Status)}

	if err := s.Store.CreateRequest(ctx, r); err != nil {
		return nil, translate(err, "request")
	}

	if s.Push != nil && r.CampusID != nil && r.Settings.PublicVisibility {
		if err := s.Push.BroadcastCampus(*r.CampusID, "request:new", r); err != nil {
			logOrNop(s.Log).Warn("broadcast new request failed", zap.String("requestID", r.ID), zap.Error(err))
		}
	}
	return r, nil
}

func (s *RequestService) defaultTTL() time.Duration {
	if s.DefaultTTL > 0 {
		return s.DefaultTTL
	}
	return 30 * 24 * time.Hour
}

// List scopes to the caller's campus unless allCampuses is set. Non-staff
// callers only see public requests and their own.
func (s *RequestService) List(ctx context.Context, caller models.Caller, f store.RequestFilter, allCampuses bool) ([]models.Request, int64, error) {
	if err := validIDs(ref("category", f.CategoryID), ref("campus", f.CampusID), ref("requester", f.RequesterID)); err != nil {
		return nil, 0, err
	}
	if !allCampuses && f.CampusID == "" {
		f.CampusID = caller.CampusID
	}
	if !caller.IsStaff() {
		f.ViewerID = caller.UserID
	}
	items, total, err := s.Store.ListRequests(ctx, f)
	if err != nil {
		return nil, 0, internal("list requests", err)
	}
	return items, total, nil
}

func (s *RequestService) canSee(caller models.Caller, r *models.Request) bool {
	return r.Settings.PublicVisibility || r.IsOwner(caller.UserID) || caller.IsStaff()
}

func (s *RequestService) Get(ctx context.Context, caller models.Caller, id string) (*models.Request, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, translate(err, "request")
	}
	if !s.canSee(caller, r) {
		return nil, notFound("request")
	}
	viewed, err := s.Store.ViewRequest(ctx, id)
	if err != nil {
		return nil, translate(err, "request")
	}
	return viewed, nil
}

type RequestPatch struct {
	Title        *string                 `json:"title"`
	Description  *string                 `json:"description"`
	CategoryID   *string                 `json:"category"`
	DesiredPrice *decimal.Decimal        `json:"desiredPrice"`
	Priority     *models.Priority        `json:"priority"`
	Tags         []string                `json:"tags"`
	Location     *string                 `json:"location"`
	Settings     *models.RequestSettings `json:"settings"`
}

func (s *RequestService) Update(ctx context.Context, caller models.Caller, id string, p RequestPatch) (*models.Request, error) {
	if err := validIDs(optRef("category", p.CategoryID)); err != nil {
		return nil, err
	}
	m, err := s.Store.MutateRequest(ctx, id, func(r *models.Request) error {
		if !r.IsOwner(caller.UserID) && !caller.IsAdmin() {
			return forbidden("only the requester can update this request")
		}
		if r.Status != models.RequestOpen {
			return invalid("cannot update a fulfilled or closed request")
		}

		oldVals := map[string]any{}
		newVals := map[string]any{}
		track := func(field string, before, after any) {
			oldVals[field] = before
			newVals[field] = after
		}
		if p.Title != nil {
			track("title", r.Title, *p.Title)
			r.Title = strings.TrimSpace(*p.Title)
		}
		if p.Description != nil {
			track("description", r.Description, *p.Description)
			r.Description = *p.Description
		}
		if p.CategoryID != nil {
			track("category", r.CategoryID, *p.CategoryID)
			r.CategoryID = p.CategoryID
		}
		if p.DesiredPrice != nil {
			track("desiredPrice", r.DesiredPrice, *p.DesiredPrice)
			r.DesiredPrice = *p.DesiredPrice
		}
		if p.Priority != nil {
			track("priority", r.Priority, *p.Priority)
			r.Priority = *p.Priority
		}
		if p.Tags != nil {
			track("tags", r.Tags, p.Tags)
			r.Tags = p.Tags
		}
		if p.Location != nil {
			track("location", r.Location, *p.Location)
			r.Location = *p.Location
		}
		if p.Settings != nil {
			track("settings", r.Settings, *p.Settings)
			r.Settings = *p.Settings
		}
		if len(newVals) == 0 {
			return invalid("no fields to update")
		}
		if err := models.ValidateRequestFields(r.Title, r.DesiredPrice, r.Priority, len(r.Images)); err != nil {
			return err
		}
		r.History = append(r.History, models.NewHistoryEntry("updated", caller.UserID, "request updated", oldVals, newVals))
		return nil
	})
	if err != nil {
		return nil, translate(err, "request")
	}
	return m.Request, nil
}

// Delete closes the request and cancels its pending offers.
func (s *RequestService) Delete(ctx context.Context, caller models.Caller, id string) (*models.Request, error) {
	m, err := s.Store.MutateRequest(ctx, id, func(r *models.Request) error {
		if !r.IsOwner(caller.UserID) && !caller.IsAdmin() {
			return forbidden("only the requester can delete this request")
		}
		if !r.CanTransition(models.RequestClosed) {
			return invalid("request is already " + string(r.Status))
		}
		r.History = append(r.History, models.NewHistoryEntry("closed", caller.UserID, "request closed by user", r.Status, models.RequestClosed))
		r.Status = models.RequestClosed
		return nil
	})
	if err != nil {
		return nil, translate(err, "request")
	}
	s.notifyCancelled(ctx, m)
	return m.Request, nil
}

func (s *RequestService) notifyCancelled(ctx context.Context, m *store.RequestMutation) {
	notifyCancelled(ctx, s.Notifier, m.Request, m.Cancelled, "was closed")
}

// Fulfill accepts one of the request's offers on behalf of its owner.
func (s *RequestService) Fulfill(ctx context.Context, caller models.Caller, id, offerID string) (*Acceptance, error) {
	if offerID == "" {
		return nil, invalid("offerId is required")
	}
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, translate(err, "request")
	}
	if !r.IsOwner(caller.UserID) {
		return nil, forbidden("only the requester can fulfill this request")
	}
	offer, err := s.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, translate(err, "offer")
	}
	if offer.RequestID != r.ID {
		return nil, invalid("offer does not belong to this request")
	}
	return s.Acceptance.Accept(ctx, caller, offerID)
}

func (s *RequestService) Extend(ctx context.Context, caller models.Caller, id string, expiresAt time.Time) (*models.Request, error) {
	expiresAt = expiresAt.UTC()
	m, err := s.Store.MutateRequest(ctx, id, func(r *models.Request) error {
		if !r.IsOwner(caller.UserID) && !caller.IsStaff() {
			return forbidden("only the requester can extend this request")
		}
		if r.Status != models.RequestOpen {
			return invalid("only open requests can be extended")
		}
		if !expiresAt.After(r.ExpiresAt) {
			return invalid("new expiry must be after the current expiry")
		}
		if expiresAt.After(time.Now().UTC().Add(models.MaxRequestLifetime)) {
			return invalid("expiresAt cannot be more than 365 days away")
		}
		r.History = append(r.History, models.NewHistoryEntry("extended", caller.UserID, "expiry extended", r.ExpiresAt, expiresAt))
		r.ExpiresAt = expiresAt
		return nil
	})
	if err != nil {
		return nil, translate(err, "request")
	}
	return m.Request, nil
}

type ImageFile struct {
	Name string
	Body io.Reader
}

// UploadImages attaches remote URLs and uploaded files. Files already pushed
// to the object store are removed again if the request cannot be saved.
func (s *RequestService) UploadImages(ctx context.Context, caller models.Caller, id string, urls []string, files []ImageFile) (*models.Request, error) {
	if len(urls)+len(files) == 0 {
		return nil, invalid("no images provided")
	}
	if err := validateImageURLs(urls); err != nil {
		return nil, err
	}
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, translate(err, "request")
	}
	if !r.IsOwner(caller.UserID) && !caller.IsAdmin() {
		return nil, forbidden("only the requester can add images")
	}
	if len(r.Images)+len(urls)+len(files) > models.MaxRequestImages {
		return nil, invalid(fmt.Sprintf("a request can have at most %d images", models.MaxRequestImages))
	}
	if len(files) > 0 && s.Images == nil {
		return nil, internal("image uploads are not configured", nil)
	}

	added := append([]string{}, urls...)
	var uploaded []string
	for _, f := range files {
		asset, err := s.Images.Upload(ctx, f.Name, f.Body)
		if err != nil {
			s.discard(uploaded)
			return nil, internal("image upload failed", err)
		}
		uploaded = append(uploaded, asset.PublicID)
		added = append(added, asset.URL)
	}

	m, err := s.Store.MutateRequest(ctx, id, func(r *models.Request) error {
		if len(r.Images)+len(added) > models.MaxRequestImages {
			return invalid(fmt.Sprintf("a request can have at most %d images", models.MaxRequestImages))
		}
		r.History = append(r.History, models.NewHistoryEntry("images_added", caller.UserID, fmt.Sprintf("%d images added", len(added)), nil, added))
		r.Images = append(r.Images, added...)
		return nil
	})
	if err != nil {
		s.discard(uploaded)
		return nil, translate(err, "request")
	}
	return m.Request, nil
}

func (s *RequestService) discard(publicIDs []string) {
	for _, id := range publicIDs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.Images.Destroy(ctx, id); err != nil {
			logOrNop(s.Log).Warn("orphaned image cleanup failed", zap.String("publicID", id), zap.Error(err))
		}
		cancel()
	}
}

func (s *RequestService) History(ctx context.Context, caller models.Caller, id string, f store.HistoryFilter) ([]models.HistoryEntry, int64, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, 0, translate(err, "request")
	}
	if !r.IsOwner(caller.UserID) && !caller.IsStaff() {
		return nil, 0, forbidden("not allowed to view this request's history")
	}
	entries, total, err := s.Store.RequestHistory(ctx, id, f)
	if err != nil {
		return nil, 0, internal("request history", err)
	}
	return entries, total, nil
}

func validateImageURLs(urls []string) error {
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("image urls must be absolute http(s) urls")
		}
	}
	return nil
}
