package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/credit-ledger/internal/config"
	"github.com/credit-ledger/internal/logger"
	"github.com/credit-ledger/internal/models"
	"github.com/credit-ledger/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mojocn/base64Captcha"
	"golang.org/x/crypto/bcrypt"
)

// ErrTokenInvalid token 无法解析或已过期
var ErrTokenInvalid = kindError("token_invalid", "token invalid or expired")

// AuthService 用户与管理员令牌、管理员登录
type AuthService struct {
	userJWT      config.JWTConfig
	adminJWT     config.JWTConfig
	captchaCfg   config.CaptchaConfig
	adminRepo    repository.AdminRepository
	captchaStore base64Captcha.Store
	now          func() time.Time
}

// NewAuthService 创建认证服务；captchaStore 为空时使用内存存储
func NewAuthService(cfg *config.Config, adminRepo repository.AdminRepository, captchaStore base64Captcha.Store) *AuthService {
	if captchaStore == nil {
		expire := time.Duration(cfg.Captcha.ExpireSeconds) * time.Second
		if expire <= 0 {
			expire = 5 * time.Minute
		}
		captchaStore = base64Captcha.NewMemoryStore(base64Captcha.GCLimitNumber, expire)
	}
	return &AuthService{
		userJWT:      cfg.JWT,
		adminJWT:     cfg.AdminJWT,
		captchaCfg:   cfg.Captcha,
		adminRepo:    adminRepo,
		captchaStore: captchaStore,
		now:          time.Now,
	}
}

// HashPassword 使用 bcrypt 加密密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// UserClaims 用户令牌声明
type UserClaims struct {
	UserID uint `json:"user_id"`
	jwt.RegisteredClaims
}

// AdminClaims 管理员令牌声明
type AdminClaims struct {
	AdminID  uint   `json:"admin_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func (s *AuthService) registered(cfg config.JWTConfig, subject string) (jwt.RegisteredClaims, time.Time) {
	now := s.now()
	hours := cfg.ExpireHours
	if hours <= 0 {
		hours = 24
	}
	expiresAt := now.Add(time.Duration(hours) * time.Hour)
	return jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    cfg.Issuer,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
	}, expiresAt
}

// IssueUserToken 签发用户令牌，用户体系由上游负责，这里只签发与解析
func (s *AuthService) IssueUserToken(userID uint) (string, time.Time, error) {
	if userID == 0 {
		return "", time.Time{}, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	registered, expiresAt := s.registered(s.userJWT, fmt.Sprintf("%d", userID))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, UserClaims{UserID: userID, RegisteredClaims: registered})
	signed, err := token.SignedString([]byte(s.userJWT.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseUserToken 解析用户令牌
func (s *AuthService) ParseUserToken(tokenString string) (*UserClaims, error) {
	claims := &UserClaims{}
	if err := s.parse(tokenString, s.userJWT, claims); err != nil {
		return nil, err
	}
	if claims.UserID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// IssueAdminToken 签发管理员令牌
func (s *AuthService) IssueAdminToken(admin *models.Admin) (string, time.Time, error) {
	if admin == nil || admin.ID == 0 {
		return "", time.Time{}, fmt.Errorf("%w: admin is required", ErrInvalidInput)
	}
	registered, expiresAt := s.registered(s.adminJWT, admin.Username)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		AdminID:          admin.ID,
		Username:         admin.Username,
		RegisteredClaims: registered,
	})
	signed, err := token.SignedString([]byte(s.adminJWT.Secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ParseAdminToken 解析管理员令牌
func (s *AuthService) ParseAdminToken(tokenString string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	if err := s.parse(tokenString, s.adminJWT, claims); err != nil {
		return nil, err
	}
	if claims.AdminID == 0 {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *AuthService) parse(tokenString string, cfg config.JWTConfig, claims jwt.Claims) error {
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return ErrTokenInvalid
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.NewParser(options...).ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}

// CaptchaChallenge 图片验证码
type CaptchaChallenge struct {
	CaptchaID   string `json:"captcha_id"`
	ImageBase64 string `json:"image_base64"`
}

// GenerateCaptcha 生成后台登录验证码
func (s *AuthService) GenerateCaptcha() (*CaptchaChallenge, error) {
	height := positiveOrDefault(s.captchaCfg.Height, 80)
	width := positiveOrDefault(s.captchaCfg.Width, 240)
	length := positiveOrDefault(s.captchaCfg.Length, 5)
	driver := base64Captcha.NewDriverString(
		height,
		width,
		0,
		base64Captcha.OptionShowHollowLine,
		length,
		"23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ",
		nil,
		base64Captcha.DefaultEmbeddedFonts,
		nil,
	)
	id, b64s, _, err := base64Captcha.NewCaptcha(driver, s.captchaStore).Generate()
	if err != nil {
		return nil, err
	}
	return &CaptchaChallenge{CaptchaID: id, ImageBase64: b64s}, nil
}

// AdminLoginInput 管理员登录参数
type AdminLoginInput struct {
	Username    string
	Password    string
	CaptchaID   string
	CaptchaCode string
}

// AdminLoginResult 登录结果
type AdminLoginResult struct {
	Admin     *models.Admin `json:"admin"`
	Token     string        `json:"token"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// AdminLogin 校验验证码与密码后签发令牌
func (s *AuthService) AdminLogin(ctx context.Context, input AdminLoginInput) (*AdminLoginResult, error) {
	log := logger.FromContext(ctx).With("username", input.Username)
	if s.captchaCfg.Enabled {
		if !s.captchaStore.Verify(strings.TrimSpace(input.CaptchaID), strings.TrimSpace(input.CaptchaCode), true) {
			log.Warnw("admin_login_captcha_invalid")
			return nil, ErrCaptchaInvalid
		}
	}
	admin, err := s.adminRepo.GetByUsername(input.Username)
	if err != nil {
		return nil, err
	}
	if admin == nil {
		log.Warnw("admin_login_failed", "reason", "not_found")
		return nil, ErrAdminCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(input.Password)); err != nil {
		log.Warnw("admin_login_failed", "reason", "password_mismatch")
		return nil, ErrAdminCredentials
	}
	token, expiresAt, err := s.IssueAdminToken(admin)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.adminRepo.TouchLastLogin(admin.ID, now); err != nil {
		return nil, err
	}
	admin.LastLoginAt = &now
	log.Infow("admin_login_succeeded", "admin_id", admin.ID)
	return &AdminLoginResult{Admin: admin, Token: token, ExpiresAt: expiresAt}, nil
}

// IsTokenError 判断是否令牌错误
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenInvalid)
}

func positiveOrDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}
