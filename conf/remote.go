package conf

import (
	"time"

	"github.com/pkg/errors"
	"github.com/txix-open/isp-kit/log"
	"request-throttle-service/domain"
)

const (
	defaultBurstWindow     = 10 * time.Second
	defaultRateWindow      = 60 * time.Second
	defaultBreakerCooldown = 5 * time.Minute
	defaultSweepInterval   = 5 * time.Minute
)

type Remote struct {
	Throttle Throttle `schema:"Настройки тротлинга"`
	Journal  *Journal `schema:"Настройки журнала решений,обязательно, если включена выгрузка решений в Redis"`
	Server   Server   `schema:"Настройки монитор-сервера"`
	Logging  Logging  `schema:"Настройки логирования"`
}

type Throttle struct {
	Categories           []CategoryLimit `valid:"required" schema:"Лимиты по категориям"`
	BreakerCooldownInSec int             `schema:"Время восстановления предохранителя,в секундах, по умолчанию: 300"`
	SweepIntervalInSec   int             `schema:"Интервал фоновой очистки леджеров,в секундах, по умолчанию: 300"`
}

type CategoryLimit struct {
	Category         string `valid:"required" schema:"Категория операций"`
	BurstLimit       int    `valid:"required" schema:"Лимит всплеска,запросов в окне всплеска"`
	BurstWindowInSec int    `schema:"Окно всплеска,в секундах, по умолчанию: 10"`
	RateLimit        int    `valid:"required" schema:"Лимит частоты,запросов в окне частоты"`
	RateWindowInSec  int    `schema:"Окно частоты,в секундах, по умолчанию: 60"`
}

type Server struct {
	BindAddress string `valid:"required" schema:"Адрес монитор-сервера"`
}

type Logging struct {
	LogLevel     log.Level `schema:"Уровень логирования"`
	DecisionsLog bool      `schema:"Включить логирование решений"`
}

type Journal struct {
	Address      string         `schema:"Адрес Redis,обязательно, если sentinel не указан"`
	Username     string         `schema:"Имя пользователя"`
	Password     string         `schema:"Пароль"`
	Sentinel     *RedisSentinel `schema:"Настройки sentinel,обязательно, если address не указан"`
	KeyPrefix    string         `schema:"Префикс ключей,по умолчанию: throttle"`
	TtlInSec     int            `schema:"Время жизни поминутных счетчиков,в секундах, по умолчанию: 86400"`
	StreamMaxLen int64          `schema:"Максимальная длина потока отказов,по умолчанию: 1024"`
}

type RedisSentinel struct {
	Addresses  []string `valid:"required" schema:"Адреса нод в кластере"`
	MasterName string   `valid:"required" schema:"Имя мастера"`
	Username   string   `schema:"Имя пользователя в sentinel"`
	Password   string   `schema:"Пароль в sentinel"`
}

func (t Throttle) GetBreakerCooldown() time.Duration {
	if t.BreakerCooldownInSec <= 0 {
		return defaultBreakerCooldown
	}
	return time.Duration(t.BreakerCooldownInSec) * time.Second
}

func (t Throttle) GetSweepInterval() time.Duration {
	if t.SweepIntervalInSec <= 0 {
		return defaultSweepInterval
	}
	return time.Duration(t.SweepIntervalInSec) * time.Second
}

func (l CategoryLimit) GetBurstWindow() time.Duration {
	if l.BurstWindowInSec <= 0 {
		return defaultBurstWindow
	}
	return time.Duration(l.BurstWindowInSec) * time.Second
}

func (l CategoryLimit) GetRateWindow() time.Duration {
	if l.RateWindowInSec <= 0 {
		return defaultRateWindow
	}
	return time.Duration(l.RateWindowInSec) * time.Second
}

func (j Journal) GetKeyPrefix() string {
	if j.KeyPrefix == "" {
		return "throttle"
	}
	return j.KeyPrefix
}

func (j Journal) GetTtl() time.Duration {
	if j.TtlInSec <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(j.TtlInSec) * time.Second
}

func (j Journal) GetStreamMaxLen() int64 {
	if j.StreamMaxLen <= 0 {
		return 1024 //nolint:mnd
	}
	return j.StreamMaxLen
}

func (r Remote) Validate() error {
	if len(r.Throttle.Categories) == 0 {
		return errors.New("at least one category limit is required")
	}

	seen := make(map[domain.Category]bool)
	for _, limit := range r.Throttle.Categories {
		category, err := domain.ParseCategory(limit.Category)
		if err != nil {
			return errors.WithMessage(err, "parse category")
		}
		if seen[category] {
			return errors.Errorf("duplicated limits for category '%s'", category)
		}
		seen[category] = true

		if limit.BurstLimit <= 0 || limit.RateLimit <= 0 {
			return errors.Errorf("limits for category '%s' must be positive", category)
		}
		if limit.GetBurstWindow() > limit.GetRateWindow() {
			return errors.Errorf("burst window for category '%s' must not exceed rate window", category)
		}
	}

	if r.Journal != nil && r.Journal.Sentinel == nil && r.Journal.Address == "" {
		return errors.New("invalid journal config. sentinel or address are required")
	}

	return nil
}

// DefaultLimits mirrors the built-in limits the throttle ships with; the
// remote config overrides them per category.
func DefaultLimits() []CategoryLimit {
	return []CategoryLimit{
		{Category: domain.CategoryAuthentication.String(), BurstLimit: 5, RateLimit: 30},
		{Category: domain.CategoryBulkRead.String(), BurstLimit: 20, RateLimit: 100},
		{Category: domain.CategoryBulkWrite.String(), BurstLimit: 10, RateLimit: 60},
		{Category: domain.CategoryStorage.String(), BurstLimit: 5, RateLimit: 20},
		{Category: domain.CategoryTelemetry.String(), BurstLimit: 50, RateLimit: 300},
	}
}
