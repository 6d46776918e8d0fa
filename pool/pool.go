// Пакет pool — ограниченный пул соединений с PostgreSQL.
// Построен на puddle (тот же фундамент, что у pgxpool): puddle владеет
// жизненным циклом ресурсов и очередью ожидающих, пул добавляет тайм-аут
// захвата, пробу живости при возврате и фоновое обслуживание
// (минимальный размер, вытеснение по возрасту простоя и времени жизни).
//
// Пул — единственная точка синхронизации: аренда принадлежит ровно одной
// единице работы и возвращается ровно один раз.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"
)

// Ошибки пула.
var (
	// ErrAcquireTimeout — соединение не освободилось за отведённое время.
	// Вызывающая сторона может повторить запрос с backoff.
	ErrAcquireTimeout = errors.New("тайм-аут ожидания соединения из пула")
	// ErrClosed — пул закрыт.
	ErrClosed = errors.New("пул закрыт")
)

// Значения по умолчанию для незаполненных полей Config.
const (
	defaultAcquireTimeout    = 30 * time.Second
	defaultMaxConnIdleTime   = 30 * time.Minute
	defaultMaxConnLifetime   = time.Hour
	defaultHealthCheckPeriod = time.Minute
	defaultProbeTimeout      = 2 * time.Second
	defaultCloseTimeout      = 3 * time.Second
)

// Config — параметры пула.
type Config struct {
	// ConnString — строка подключения PostgreSQL (postgres://...).
	// Игнорируется, если задан Connect.
	ConnString string
	// Connect — фабрика соединений (по умолчанию pgx.Connect по ConnString).
	Connect ConnectFunc
	// MinConns — минимальное число соединений; пул открывает недостающие
	// в фоне, не задерживая вызывающих.
	MinConns int32
	// MaxConns — максимальное число соединений (обязательно > 0).
	MaxConns int32
	// AcquireTimeout — максимальное ожидание в Acquire.
	AcquireTimeout time.Duration
	// MaxConnIdleTime — возраст простоя, после которого соединение
	// вытесняется (сверх MinConns).
	MaxConnIdleTime time.Duration
	// MaxConnLifetime — полное время жизни соединения; по истечении
	// соединение вытесняется безусловно.
	MaxConnLifetime time.Duration
	// HealthCheckPeriod — период фонового обслуживания.
	HealthCheckPeriod time.Duration
	// ProbeTimeout — тайм-аут пробы живости при возврате аренды.
	ProbeTimeout time.Duration
	// Logger — структурный логгер (nil — slog.Default()).
	Logger *slog.Logger
}

// Pool — ограниченный пул соединений.
type Pool struct {
	cfg    Config
	pud    *puddle.Pool[Conn]
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New создаёт пул и запускает фоновое обслуживание.
// Соединения открываются лениво (и в фоне до MinConns) — ошибка
// подключения проявится при первом Acquire, а не здесь.
func New(cfg Config) (*Pool, error) {
	if cfg.MaxConns <= 0 {
		return nil, fmt.Errorf("пул: MaxConns должен быть > 0")
	}
	if cfg.MinConns < 0 || cfg.MinConns > cfg.MaxConns {
		return nil, fmt.Errorf("пул: недопустимый MinConns %d при MaxConns %d", cfg.MinConns, cfg.MaxConns)
	}
	if cfg.Connect == nil {
		if cfg.ConnString == "" {
			return nil, fmt.Errorf("пул: не задан ни ConnString, ни Connect")
		}
		cfg.Connect = pgxConnect(cfg.ConnString)
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaultAcquireTimeout
	}
	if cfg.MaxConnIdleTime <= 0 {
		cfg.MaxConnIdleTime = defaultMaxConnIdleTime
	}
	if cfg.MaxConnLifetime <= 0 {
		cfg.MaxConnLifetime = defaultMaxConnLifetime
	}
	if cfg.HealthCheckPeriod <= 0 {
		cfg.HealthCheckPeriod = defaultHealthCheckPeriod
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	p := &Pool{
		cfg:    cfg,
		logger: cfg.Logger,
		done:   make(chan struct{}),
	}

	pud, err := puddle.NewPool(&puddle.Config[Conn]{
		Constructor: func(ctx context.Context) (Conn, error) {
			return cfg.Connect(ctx)
		},
		Destructor: func(c Conn) {
			ctx, cancel := context.WithTimeout(context.Background(), defaultCloseTimeout)
			defer cancel()
			if err := c.Close(ctx); err != nil {
				p.logger.Debug("Ошибка закрытия соединения", slog.String("error", err.Error()))
			}
		},
		MaxSize: cfg.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула: %w", err)
	}
	p.pud = pud

	p.wg.Add(1)
	go p.maintain()

	return p, nil
}

// Acquire выдаёт эксклюзивную аренду соединения.
// Ожидание ограничено AcquireTimeout; отмена контекста вызывающего
// прерывает ожидание без захвата ресурсов.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	res, err := p.pud.Acquire(waitCtx)
	if err != nil {
		switch {
		case errors.Is(err, puddle.ErrClosedPool):
			return nil, ErrClosed
		case ctx.Err() != nil:
			// Отмена пришла от вызывающего — пробрасываем её, а не тайм-аут.
			return nil, ctx.Err()
		case errors.Is(err, context.DeadlineExceeded):
			return nil, fmt.Errorf("%w (%s)", ErrAcquireTimeout, p.cfg.AcquireTimeout)
		default:
			return nil, fmt.Errorf("ошибка получения соединения: %w", err)
		}
	}
	return &Lease{res: res, pool: p}, nil
}

// Stat возвращает статистику пула.
func (p *Pool) Stat() *puddle.Stat {
	return p.pud.Stat()
}

// Close закрывает пул: останавливает обслуживание, ждёт возврата всех
// аренд и закрывает соединения.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.pud.Close()
		p.wg.Wait()
	})
}

// maintain — фоновое обслуживание: дооткрытие до MinConns и вытеснение
// соединений по возрасту. Та же схема, что у health check в pgxpool.
func (p *Pool) maintain() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.HealthCheckPeriod)
	defer ticker.Stop()

	// Первичное наполнение до MinConns сразу после старта.
	p.fillToMin()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.evictStale()
			p.fillToMin()
		}
	}
}

// fillToMin дооткрывает соединения до MinConns.
func (p *Pool) fillToMin() {
	for {
		stat := p.pud.Stat()
		if stat.TotalResources()+stat.ConstructingResources() >= p.cfg.MinConns {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AcquireTimeout)
		err := p.pud.CreateResource(ctx)
		cancel()
		if err != nil {
			if !errors.Is(err, puddle.ErrClosedPool) {
				p.logger.Warn("Не удалось открыть соединение для минимума пула",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// evictStale вытесняет простаивающие и отжившие соединения.
// Простой учитывается только сверх MinConns; превышение времени жизни
// вытесняет безусловно.
func (p *Pool) evictStale() {
	idle := p.pud.AcquireAllIdle()
	total := p.pud.Stat().TotalResources()

	destroyed := int32(0)
	for _, res := range idle {
		lifetimeExceeded := time.Since(res.CreationTime()) > p.cfg.MaxConnLifetime
		idleExceeded := res.IdleDuration() > p.cfg.MaxConnIdleTime &&
			total-destroyed > p.cfg.MinConns

		if lifetimeExceeded || idleExceeded || res.Value().IsClosed() {
			res.Destroy()
			destroyed++
			continue
		}
		res.ReleaseUnused()
	}

	if destroyed > 0 {
		p.logger.Debug("Вытеснены устаревшие соединения", slog.Int("count", int(destroyed)))
	}
}

// Lease — эксклюзивная аренда одного соединения.
// Возвращается в пул ровно один раз: Release или Destroy.
type Lease struct {
	res      *puddle.Resource[Conn]
	pool     *Pool
	returned atomic.Bool
}

// Conn возвращает арендованное соединение.
func (l *Lease) Conn() Conn {
	return l.res.Value()
}

// Release возвращает соединение в пул после пробы живости.
// Непрошедшее пробу соединение уничтожается (замена откроется фоновым
// обслуживанием); ошибка пробы не распространяется вызывающему.
func (l *Lease) Release() {
	if !l.returned.CompareAndSwap(false, true) {
		return
	}
	conn := l.res.Value()
	if conn.IsClosed() {
		l.res.Destroy()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.pool.cfg.ProbeTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		l.pool.logger.Warn("Соединение не прошло пробу живости, уничтожается",
			slog.String("error", err.Error()))
		l.res.Destroy()
		return
	}
	l.res.Release()
}

// Destroy уничтожает соединение, не возвращая его в оборот.
// Используется для зависших и повреждённых соединений.
func (l *Lease) Destroy() {
	if !l.returned.CompareAndSwap(false, true) {
		return
	}
	l.res.Destroy()
}
