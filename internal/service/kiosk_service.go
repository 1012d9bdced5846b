package service

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"chrona-backend/internal/event"
	"chrona-backend/internal/model"
	"chrona-backend/internal/util"
)

const (
	kioskKeyScheme   = "kk_"
	kioskPrefixBytes = 6
	kioskSecretBytes = 32

	maxKioskNameLength   = 100
	maxAppVersionLength  = 50
	maxDeviceInfoLength  = 255
	maxKioskLocationSize = 255
)

type KioskService struct {
	kiosks       KioskStore
	users        UserStore
	bus          event.Bus
	keyCost      int
	onlineWindow time.Duration
	now          func() time.Time
}

func NewKioskService(kiosks KioskStore, users UserStore, bus event.Bus, keyCost int, onlineWindow time.Duration) *KioskService {
	if bus == nil {
		bus = event.Nop{}
	}
	if onlineWindow <= 0 {
		onlineWindow = 5 * time.Minute
	}
	return &KioskService{
		kiosks:       kiosks,
		users:        users,
		bus:          bus,
		keyCost:      normalizeCost(keyCost),
		onlineWindow: onlineWindow,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *KioskService) Create(ctx context.Context, actorID string, req model.CreateKioskRequest, meta model.RequestMeta) (model.Kiosk, error) {
	name := util.CleanLabel(req.Name)
	location := util.CleanLabel(req.Location)
	if err := validateKioskFields(name, location, req.IPAddress); err != nil {
		return model.Kiosk{}, err
	}

	mode := req.AccessMode
	if mode == "" {
		mode = model.AccessModePublic
	}
	if !mode.Valid() {
		return model.Kiosk{}, model.ErrInvalidInput.WithDetails("access_mode must be public, whitelist or blacklist")
	}

	now := s.now()
	kiosk := model.Kiosk{
		ID:         uuid.NewString(),
		Name:       name,
		Location:   location,
		IPAddress:  strings.TrimSpace(req.IPAddress),
		AccessMode: mode,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	entry := model.NewAuditEntry(model.AuditKioskCreated, meta, now)
	entry.UserID = actorID
	entry.KioskID = kiosk.ID
	entry.EventData = map[string]any{"name": kiosk.Name, "location": kiosk.Location}

	if err := s.kiosks.Create(ctx, kiosk, entry); err != nil {
		return model.Kiosk{}, err
	}

	s.bus.Publish(event.New(event.TypeKioskCreated, actorID, kiosk))
	slog.Info("kiosk created", "kiosk_id", kiosk.ID, "name", kiosk.Name)
	return kiosk, nil
}

func (s *KioskService) Update(ctx context.Context, actorID string, kioskID string, req model.UpdateKioskRequest, meta model.RequestMeta) (model.Kiosk, error) {
	kiosk, err := s.kiosks.FindByID(ctx, kioskID)
	if err != nil {
		return model.Kiosk{}, err
	}

	changes := map[string]any{}
	if req.Name != nil {
		kiosk.Name = util.CleanLabel(*req.Name)
		changes["name"] = kiosk.Name
	}
	if req.Location != nil {
		kiosk.Location = util.CleanLabel(*req.Location)
		changes["location"] = kiosk.Location
	}
	if req.IPAddress != nil {
		kiosk.IPAddress = strings.TrimSpace(*req.IPAddress)
		changes["ip_address"] = kiosk.IPAddress
	}
	if req.IsActive != nil {
		kiosk.IsActive = *req.IsActive
		changes["is_active"] = kiosk.IsActive
	}
	if len(changes) == 0 {
		return model.Kiosk{}, model.ErrInvalidInput.WithDetails("no fields to update")
	}
	if err := validateKioskFields(kiosk.Name, kiosk.Location, kiosk.IPAddress); err != nil {
		return model.Kiosk{}, err
	}

	kiosk.UpdatedAt = s.now()
	entry := model.NewAuditEntry(model.AuditKioskUpdated, meta, kiosk.UpdatedAt)
	entry.UserID = actorID
	entry.KioskID = kiosk.ID
	entry.EventData = changes

	if err := s.kiosks.Update(ctx, kiosk, entry); err != nil {
		return model.Kiosk{}, err
	}

	s.bus.Publish(event.New(event.TypeKioskUpdated, actorID, changes))
	return kiosk, nil
}

// IssueAPIKey replaces the kiosk's key. The plaintext is returned once and
// only its bcrypt hash is kept; the previous key stops working at once.
func (s *KioskService) IssueAPIKey(ctx context.Context, actorID string, kioskID string, meta model.RequestMeta) (model.IssuedAPIKey, error) {
	if _, err := s.kiosks.FindByID(ctx, kioskID); err != nil {
		return model.IssuedAPIKey{}, err
	}

	key, prefix, err := generateKioskKey()
	if err != nil {
		return model.IssuedAPIKey{}, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), s.keyCost)
	if err != nil {
		return model.IssuedAPIKey{}, fmt.Errorf("hash kiosk key: %w", err)
	}

	now := s.now()
	entry := model.NewAuditEntry(model.AuditKioskAPIKeyIssued, meta, now)
	entry.UserID = actorID
	entry.KioskID = kioskID
	entry.EventData = map[string]any{"api_key_prefix": prefix}

	if err := s.kiosks.SetAPIKey(ctx, kioskID, prefix, string(hash), now, entry); err != nil {
		return model.IssuedAPIKey{}, err
	}

	s.bus.Publish(event.New(event.TypeKioskKeyIssued, actorID, map[string]string{"kiosk_id": kioskID, "api_key_prefix": prefix}))
	slog.Info("kiosk api key issued", "kiosk_id", kioskID, "prefix", prefix, "actor_id", actorID)

	return model.IssuedAPIKey{KioskID: kioskID, APIKey: key, Prefix: prefix, IssuedAt: now}, nil
}

func (s *KioskService) Heartbeat(ctx context.Context, kiosk model.Kiosk, req model.HeartbeatRequest, meta model.RequestMeta) (model.KioskStatus, error) {
	hb := model.KioskHeartbeat{
		AppVersion: util.CleanLabel(req.AppVersion),
		DeviceInfo: util.CleanLabel(req.DeviceInfo),
	}
	if len(hb.AppVersion) > maxAppVersionLength {
		return model.KioskStatus{}, model.ErrInvalidInput.WithDetails(fmt.Sprintf("app_version exceeds %d characters", maxAppVersionLength))
	}
	if len(hb.DeviceInfo) > maxDeviceInfoLength {
		return model.KioskStatus{}, model.ErrInvalidInput.WithDetails(fmt.Sprintf("device_info exceeds %d characters", maxDeviceInfoLength))
	}

	now := s.now()
	entry := model.NewAuditEntry(model.AuditKioskHeartbeat, meta, now)
	entry.KioskID = kiosk.ID
	if hb.AppVersion != "" {
		entry.EventData = map[string]any{"app_version": hb.AppVersion}
	}

	updated, err := s.kiosks.RecordHeartbeat(ctx, kiosk.ID, hb, now, entry)
	if err != nil {
		return model.KioskStatus{}, err
	}

	s.bus.Publish(event.New(event.TypeKioskHeartbeat, kiosk.ID, map[string]string{"kiosk_id": kiosk.ID}))
	return updated.StatusAt(now, s.onlineWindow), nil
}

func (s *KioskService) Status(ctx context.Context, kioskID string) (model.KioskStatus, error) {
	kiosk, err := s.kiosks.FindByID(ctx, kioskID)
	if err != nil {
		return model.KioskStatus{}, err
	}
	return kiosk.StatusAt(s.now(), s.onlineWindow), nil
}

func (s *KioskService) List(ctx context.Context) ([]model.KioskStatus, error) {
	kiosks, err := s.kiosks.List(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	statuses := make([]model.KioskStatus, 0, len(kiosks))
	for _, k := range kiosks {
		statuses = append(statuses, k.StatusAt(now, s.onlineWindow))
	}
	return statuses, nil
}

// IdentifyByIP is a convenience lookup for kiosk setup screens. It proves
// nothing about the caller and is never used to authorize a punch.
func (s *KioskService) IdentifyByIP(ctx context.Context, ip string) (model.KioskIdentity, error) {
	if strings.TrimSpace(ip) == "" {
		return model.KioskIdentity{}, model.ErrKioskNotFound
	}
	kiosk, err := s.kiosks.FindByIP(ctx, ip)
	if err != nil {
		return model.KioskIdentity{}, err
	}
	return model.KioskIdentity{ID: kiosk.ID, Name: kiosk.Name, Location: kiosk.Location}, nil
}

func (s *KioskService) ListAccess(ctx context.Context, kioskID string) (model.KioskAccessData, error) {
	kiosk, err := s.kiosks.FindByID(ctx, kioskID)
	if err != nil {
		return model.KioskAccessData{}, err
	}
	entries, err := s.kiosks.ListAccess(ctx, kioskID)
	if err != nil {
		return model.KioskAccessData{}, err
	}
	return model.KioskAccessData{KioskID: kiosk.ID, AccessMode: kiosk.AccessMode, Entries: entries}, nil
}

func (s *KioskService) SetAccessMode(ctx context.Context, actorID string, kioskID string, mode model.KioskAccessMode, meta model.RequestMeta) (model.Kiosk, error) {
	if !mode.Valid() {
		return model.Kiosk{}, model.ErrInvalidInput.WithDetails("access_mode must be public, whitelist or blacklist")
	}

	kiosk, err := s.kiosks.FindByID(ctx, kioskID)
	if err != nil {
		return model.Kiosk{}, err
	}

	now := s.now()
	entry := model.NewAuditEntry(model.AuditKioskAccessModeChanged, meta, now)
	entry.UserID = actorID
	entry.KioskID = kioskID
	entry.EventData = map[string]any{"from": string(kiosk.AccessMode), "to": string(mode)}

	if err := s.kiosks.SetAccessMode(ctx, kioskID, mode, now, entry); err != nil {
		return model.Kiosk{}, err
	}

	kiosk.AccessMode = mode
	kiosk.UpdatedAt = now
	return kiosk, nil
}

func (s *KioskService) GrantAccess(ctx context.Context, actorID string, kioskID string, req model.KioskAccessRequest, meta model.RequestMeta) (model.KioskAccessEntry, error) {
	return s.putAccess(ctx, actorID, kioskID, req, model.AccessGranted, model.AuditKioskAccessGranted, meta)
}

func (s *KioskService) BlockAccess(ctx context.Context, actorID string, kioskID string, req model.KioskAccessRequest, meta model.RequestMeta) (model.KioskAccessEntry, error) {
	return s.putAccess(ctx, actorID, kioskID, req, model.AccessBlocked, model.AuditKioskAccessBlocked, meta)
}

func (s *KioskService) putAccess(ctx context.Context, actorID string, kioskID string, req model.KioskAccessRequest, kind model.KioskAccessKind, eventType model.AuditEventType, meta model.RequestMeta) (model.KioskAccessEntry, error) {
	if _, err := s.kiosks.FindByID(ctx, kioskID); err != nil {
		return model.KioskAccessEntry{}, err
	}
	if strings.TrimSpace(req.UserID) == "" {
		return model.KioskAccessEntry{}, model.ErrInvalidInput.WithDetails("user_id is required")
	}
	if _, err := s.users.FindByID(ctx, req.UserID); err != nil {
		return model.KioskAccessEntry{}, err
	}

	now := s.now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return model.KioskAccessEntry{}, model.ErrInvalidInput.WithDetails("expires_at must be in the future")
	}

	entry := model.KioskAccessEntry{
		KioskID:   kioskID,
		UserID:    req.UserID,
		Access:    kind,
		ExpiresAt: req.ExpiresAt,
		CreatedBy: actorID,
		CreatedAt: now,
	}

	audit := model.NewAuditEntry(eventType, meta, now)
	audit.UserID = req.UserID
	audit.KioskID = kioskID
	audit.EventData = map[string]any{"changed_by": actorID}
	if req.ExpiresAt != nil {
		audit.EventData["expires_at"] = req.ExpiresAt.UTC().Format(time.RFC3339)
	}

	if err := s.kiosks.UpsertAccess(ctx, entry, audit); err != nil {
		return model.KioskAccessEntry{}, err
	}
	return entry, nil
}

func (s *KioskService) RevokeAccess(ctx context.Context, actorID string, kioskID string, userID string, meta model.RequestMeta) error {
	if _, err := s.kiosks.FindByID(ctx, kioskID); err != nil {
		return err
	}

	audit := model.NewAuditEntry(model.AuditKioskAccessRevoked, meta, s.now())
	audit.UserID = userID
	audit.KioskID = kioskID
	audit.EventData = map[string]any{"changed_by": actorID}

	return s.kiosks.DeleteAccess(ctx, kioskID, userID, audit)
}

func validateKioskFields(name string, location string, ip string) error {
	if name == "" {
		return model.ErrInvalidInput.WithDetails("name is required")
	}
	if len(name) > maxKioskNameLength {
		return model.ErrInvalidInput.WithDetails(fmt.Sprintf("name exceeds %d characters", maxKioskNameLength))
	}
	if len(location) > maxKioskLocationSize {
		return model.ErrInvalidInput.WithDetails(fmt.Sprintf("location exceeds %d characters", maxKioskLocationSize))
	}
	if ip = strings.TrimSpace(ip); ip != "" && net.ParseIP(ip) == nil {
		return model.ErrInvalidInput.WithDetails("ip_address is not a valid IP")
	}
	return nil
}

// generateKioskKey returns "kk_<12 hex>.<43 base64url>" and its lookup
// prefix "kk_<12 hex>". The whole key stays under bcrypt's 72-byte limit.
func generateKioskKey() (string, string, error) {
	prefixBytes, err := randomBytes(kioskPrefixBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate kiosk key: %w", err)
	}
	secret, err := randomBytes(kioskSecretBytes)
	if err != nil {
		return "", "", fmt.Errorf("generate kiosk key: %w", err)
	}

	prefix := kioskKeyScheme + hex.EncodeToString(prefixBytes)
	return prefix + "." + base64.RawURLEncoding.EncodeToString(secret), prefix, nil
}

func kioskKeyPrefix(key string) (string, bool) {
	if len(key) > 72 || !strings.HasPrefix(key, kioskKeyScheme) {
		return "", false
	}
	prefix, secret, found := strings.Cut(key, ".")
	if !found || secret == "" || len(prefix) != len(kioskKeyScheme)+2*kioskPrefixBytes {
		return "", false
	}
	if _, err := hex.DecodeString(strings.TrimPrefix(prefix, kioskKeyScheme)); err != nil {
		return "", false
	}
	return prefix, true
}

func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}
