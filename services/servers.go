package services

import (
	"context"
	"crypto/subtle"
	"strings"

	"backoffice/models"

	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// DefaultContributionRate is the percent of each purchase added to a new
// server's add-on prize.
var DefaultContributionRate = decimal.NewFromInt(10)

type ServerInput struct {
	Name                    string           `json:"name"`
	ServerCode              string           `json:"server_code"`
	SecretKey               string           `json:"-"`
	ContributionRatePercent *decimal.Decimal `json:"contribution_rate_percent"`
}

type ServerService struct {
	db    *gorm.DB
	prize *PrizePoolService
}

func NewServerService(db *gorm.DB, prize *PrizePoolService) *ServerService {
	return &ServerService{db: db, prize: prize}
}

// Register creates a game server and seeds its prize setting together.
func (s *ServerService) Register(ctx context.Context, in ServerInput) (*models.GameServer, *models.PrizeSetting, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.ServerCode == "" || in.SecretKey == "" {
		return nil, nil, newError(KindInvalidArgument, "name, server_code and secret_key are required")
	}
	rate := DefaultContributionRate
	if in.ContributionRatePercent != nil {
		rate = *in.ContributionRatePercent
	}

	server := models.GameServer{
		Name:       in.Name,
		ServerCode: in.ServerCode,
		SecretKey:  in.SecretKey,
		IsActive:   true,
	}
	var setting *models.PrizeSetting
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&server).Error; err != nil {
			if isDuplicateKey(err) {
				return newError(KindConflict, "server code %s already exists", in.ServerCode)
			}
			return err
		}
		var err error
		setting, err = s.prize.EnsureSetting(tx, server.ID, rate)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("game server registered", "server", server.ID, "code", server.ServerCode, "rate", rate.String())
	return &server, setting, nil
}

func (s *ServerService) List(ctx context.Context) ([]models.GameServer, error) {
	servers := []models.GameServer{}
	err := s.db.WithContext(ctx).Order("id asc").Find(&servers).Error
	return servers, err
}

// Authenticate resolves an active server by its credentials.
func (s *ServerService) Authenticate(ctx context.Context, code, secret string) (*models.GameServer, error) {
	if code == "" || secret == "" {
		return nil, newError(KindUnauthorized, "server credentials required")
	}
	var server models.GameServer
	err := s.db.WithContext(ctx).Where("server_code = ? AND is_active = ?", code, true).First(&server).Error
	if isNotFound(err) {
		return nil, newError(KindUnauthorized, "invalid server credentials")
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(server.SecretKey), []byte(secret)) != 1 {
		return nil, newError(KindUnauthorized, "invalid server credentials")
	}
	return &server, nil
}
