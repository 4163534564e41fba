package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// 不安全的默认值列表 (生产环境不应使用)
var insecureDefaults = map[string]bool{
	"your-secret-key-change-in-production": true,
	"internal-secret":                      true,
	"": true,
}

type Config struct {
	Server         ServerConfig
	Database       DatabaseConfig
	JWT            JWTConfig
	Proxmox        ProxmoxConfig
	SMTP           SMTPConfig
	InternalSecret string
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	Schema   string
	SSLMode  string
}

type JWTConfig struct {
	SecretKey string
}

// ProxmoxConfig points at the hypervisor control endpoint. When Host, User
// or Password is empty the orchestrator runs without a hypervisor and every
// guest operation fails as not-configured.
type ProxmoxConfig struct {
	Host           string // host:port of the Proxmox VE API
	User           string // e.g. root@pam
	Password       string
	Node           string // target cluster node name
	TemplateID     int    // clone source; 0 disables the clone path
	VerifyTLS      bool
	RequestTimeout time.Duration
}

type SMTPConfig struct {
	Host          string
	Port          int
	From          string
	OperatorEmail string // receives deployment failure copies
}

func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8006"),
			Mode: getEnv("GIN_MODE", "release"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "hosting_user"),
			Password: getEnv("DB_PASSWORD", "hosting_pass"),
			DBName:   getEnv("DB_NAME", "hosting_db"),
			Schema:   getEnv("DB_SCHEMA", "hosting"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			SecretKey: getEnv("JWT_SECRET_KEY", ""),
		},
		Proxmox: ProxmoxConfig{
			Host:           getEnv("PROXMOX_HOST", ""),
			User:           getEnv("PROXMOX_USER", ""),
			Password:       getEnv("PROXMOX_PASSWORD", ""),
			Node:           getEnv("PROXMOX_NODE", "pve"),
			TemplateID:     getEnvInt("PROXMOX_TEMPLATE_ID", 0),
			VerifyTLS:      getEnvBool("PROXMOX_VERIFY_TLS", false),
			RequestTimeout: time.Duration(getEnvInt("PROXMOX_REQUEST_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		SMTP: SMTPConfig{
			Host:          getEnv("SMTP_HOST", ""),
			Port:          getEnvInt("SMTP_PORT", 25),
			From:          getEnv("SMTP_FROM", "noreply@jamiihost.com"),
			OperatorEmail: getEnv("OPERATOR_EMAIL", "ops@jamiihost.com"),
		},
		InternalSecret: getEnv("INTERNAL_SECRET", ""),
	}

	// 日志脱敏: 不记录敏感配置
	log.Printf("[config] Orchestrator Service loaded: port=%s db=%s/%s.%s proxmox=%s node=%s",
		cfg.Server.Port, cfg.Database.Host, cfg.Database.DBName, cfg.Database.Schema,
		cfg.Proxmox.Host, cfg.Proxmox.Node)

	return cfg
}

// Validate 验证配置有效性，生产环境必须设置安全的密钥
func (c *Config) Validate() error {
	if insecureDefaults[c.JWT.SecretKey] {
		return fmt.Errorf("JWT_SECRET_KEY must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.JWT.SecretKey) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters long")
	}

	if insecureDefaults[c.InternalSecret] {
		return fmt.Errorf("INTERNAL_SECRET must be set to a secure value (current value is insecure or empty)")
	}
	if len(c.InternalSecret) < 32 {
		return fmt.Errorf("INTERNAL_SECRET must be at least 32 characters long")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return "postgres://" + c.User + ":" + c.Password + "@" + c.Host + ":" + c.Port + "/" + c.DBName + "?sslmode=" + c.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
