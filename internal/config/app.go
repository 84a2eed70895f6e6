package config

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"time"
)

// Defaults
const (
	DefaultListen     = "127.0.0.1:8080"
	DefaultDataDir    = "data"
	DefaultBackend    = "auto"
	DefaultLogLevel   = "info"
	DefaultSchedule   = "@daily"
	DefaultBcryptCost = 12
)

// App is the resolved application configuration
type App struct {
	Backend   string
	DataDir   string
	Listen    string
	LogLevel  string
	LogFile   string
	AdminFile string

	// AllowSubnet is a CIDR; connections from outside it are refused
	AllowSubnet string
	// AllowedOrigins lists browser origins allowed to call the API
	AllowedOrigins []string
	// CatalogFile replaces the built-in product list when set
	CatalogFile string

	BcryptCost int

	MaintenanceEnabled  bool
	MaintenanceSchedule string
	MaintenanceTimeout  time.Duration

	EventHeartbeat  time.Duration
	ShutdownTimeout time.Duration
	WatchExternal   bool

	FreeShippingThreshold float64
	ShippingFee           float64
	TaxRate               float64
}

// FromLoader resolves the application configuration. Flags applied by the
// caller afterwards take precedence.
func FromLoader(l *Loader) App {
	dataDir := l.String("data_dir", DefaultDataDir)
	return App{
		Backend:   l.String("backend", DefaultBackend),
		DataDir:   dataDir,
		Listen:    l.String("listen", DefaultListen),
		LogLevel:  l.String("log.level", DefaultLogLevel),
		LogFile:   l.String("log.file", ""),
		AdminFile: l.String("admin_token_file", ""),

		AllowSubnet:    strings.TrimSpace(l.String("allow_subnet", "")),
		AllowedOrigins: splitList(l.String("cors.allowed_origins", "")),
		CatalogFile:    l.String("catalog_file", ""),

		BcryptCost: l.Int("auth.bcrypt_cost", DefaultBcryptCost),

		MaintenanceEnabled:  l.Bool("maintenance.enabled", true),
		MaintenanceSchedule: l.String("maintenance.schedule", DefaultSchedule),
		MaintenanceTimeout:  l.Duration("maintenance.timeout", 10*time.Minute),

		EventHeartbeat:  l.Duration("events.heartbeat", 30*time.Second),
		ShutdownTimeout: l.Duration("shutdown_timeout", 10*time.Second),
		WatchExternal:   l.Bool("kv.watch", false),

		FreeShippingThreshold: l.Float64("checkout.free_shipping_threshold", 500),
		ShippingFee:           l.Float64("checkout.shipping_fee", 50),
		TaxRate:               l.Float64("checkout.tax_rate", 0.12),
	}
}

// AdminTokenPath returns where the admin token is kept
func (a App) AdminTokenPath() string {
	if a.AdminFile != "" {
		return a.AdminFile
	}
	return filepath.Join(a.DataDir, "admin.token")
}

// AllowedNet parses AllowSubnet. Nil means every source is allowed.
func (a App) AllowedNet() (*net.IPNet, error) {
	if a.AllowSubnet == "" {
		return nil, nil
	}
	_, parsed, err := net.ParseCIDR(a.AllowSubnet)
	if err != nil {
		return nil, fmt.Errorf("invalid allow_subnet CIDR: %s", a.AllowSubnet)
	}
	return parsed, nil
}

// ListensOnAllInterfaces reports whether Listen binds every interface
func (a App) ListensOnAllInterfaces() bool {
	host, _, err := net.SplitHostPort(a.Listen)
	if err != nil {
		host = a.Listen
	}
	return host == "" || host == "0.0.0.0" || host == "::"
}

// splitList parses a comma separated setting, dropping empty entries
func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
