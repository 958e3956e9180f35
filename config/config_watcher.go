package config

import (
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"waitroom/logger"
	"waitroom/module/waitroom"
	"waitroom/tools/errs"
	"waitroom/tools/safe"

	"github.com/nacos-group/nacos-sdk-go/v2/clients"
	"github.com/nacos-group/nacos-sdk-go/v2/common/constant"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// NacosConfig points at the document holding the live tunables. Empty
// Servers disables the watcher.
type NacosConfig struct {
	Servers   []string `yaml:"servers"` // host:port
	Namespace string   `yaml:"namespace"`
	DataID    string   `yaml:"data_id"`
	Group     string   `yaml:"group"`
	TimeoutMs uint64   `yaml:"timeout_ms"`
	LogDir    string   `yaml:"log_dir"`
	CacheDir  string   `yaml:"cache_dir"`
}

func (c *NacosConfig) norm() {
	if c.DataID == "" {
		c.DataID = "waitroom.yaml"
	}
	if c.Group == "" {
		c.Group = "DEFAULT_GROUP"
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
	if c.LogDir == "" {
		c.LogDir = "/tmp/nacos/log"
	}
	if c.CacheDir == "" {
		c.CacheDir = "/tmp/nacos/cache"
	}
}

// Seconds accepts either a number of seconds or a Go duration string.
type Seconds time.Duration

func (s *Seconds) UnmarshalYAML(n *yaml.Node) error {
	v := strings.TrimSpace(n.Value)
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		*s = Seconds(time.Duration(f * float64(time.Second)))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return errs.ErrArgs.WrapMsg("bad timeout", "value", v)
	}
	*s = Seconds(d)
	return nil
}

// Overrides is the hot-reloadable part of the configuration. Absent keys
// leave the running value untouched.
type Overrides struct {
	AdmissionWindow *int     `yaml:"admission_window"`
	Timeout         *Seconds `yaml:"timeout"`
}

func ParseOverrides(data string) (Overrides, error) {
	var o Overrides
	if strings.TrimSpace(data) == "" {
		return o, nil
	}
	if err := yaml.Unmarshal([]byte(data), &o); err != nil {
		return o, errs.ErrArgs.WrapMsg("parse overrides", "err", err)
	}
	if o.AdmissionWindow != nil && *o.AdmissionWindow < 0 {
		return o, errs.ErrArgs.WrapMsg("admission_window must not be negative")
	}
	if o.Timeout != nil && *o.Timeout <= 0 {
		return o, errs.ErrArgs.WrapMsg("timeout must be positive")
	}
	return o, nil
}

// Room is what the watcher retunes.
type Room interface {
	Settings() *waitroom.Settings
	Recompute(ctx context.Context) error
}

// Apply pushes o into the room's settings. A changed window triggers a
// recompute so every waiting session learns its new position.
func Apply(ctx context.Context, room Room, o Overrides) error {
	set := room.Settings()
	resized := false
	if o.AdmissionWindow != nil {
		if prev := set.SetCapacity(*o.AdmissionWindow); prev != *o.AdmissionWindow {
			logger.Info("[config] admission window changed", zap.Int("from", prev), zap.Int("to", *o.AdmissionWindow))
			resized = true
		}
	}
	if o.Timeout != nil {
		d := time.Duration(*o.Timeout)
		if prev := set.SetTimeout(d); prev != d {
			logger.Info("[config] heartbeat timeout changed", zap.Duration("from", prev), zap.Duration("to", d))
		}
	}
	if !resized {
		return nil
	}
	return room.Recompute(ctx)
}

// configSource is the slice of the nacos config client the watcher uses.
type configSource interface {
	GetConfig(param vo.ConfigParam) (string, error)
	ListenConfig(param vo.ConfigParam) error
	CancelListenConfig(param vo.ConfigParam) error
	CloseClient()
}

type Watcher struct {
	src  configSource
	room Room
	conf NacosConfig

	mu      sync.Mutex // serializes applies
	current string
}

// StartNacosWatcher reads the document once, applies it and keeps listening
// for changes.
func StartNacosWatcher(conf NacosConfig, room Room) (*Watcher, error) {
	conf.norm()
	servers := make([]constant.ServerConfig, 0, len(conf.Servers))
	for _, s := range conf.Servers {
		host, port, err := splitHostPort(s)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *constant.NewServerConfig(host, port))
	}
	if len(servers) == 0 {
		return nil, errs.ErrArgs.WrapMsg("nacos servers missing")
	}
	cc := *constant.NewClientConfig(
		constant.WithTimeoutMs(conf.TimeoutMs),
		constant.WithNamespaceId(conf.Namespace),
		constant.WithNotLoadCacheAtStart(true),
		constant.WithLogDir(conf.LogDir),
		constant.WithCacheDir(conf.CacheDir),
		constant.WithLogLevel("warn"),
	)
	client, err := clients.NewConfigClient(vo.NacosClientParam{
		ClientConfig:  &cc,
		ServerConfigs: servers,
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "nacos config client")
	}
	return newWatcher(client, conf, room)
}

func newWatcher(src configSource, conf NacosConfig, room Room) (*Watcher, error) {
	w := &Watcher{src: src, room: room, conf: conf}
	content, err := src.GetConfig(vo.ConfigParam{DataId: conf.DataID, Group: conf.Group})
	if err != nil {
		logger.Warn("[config] initial read failed, keeping static settings", zap.String("dataId", conf.DataID), zap.Error(err))
	} else {
		w.update(content)
	}
	err = src.ListenConfig(vo.ConfigParam{
		DataId: conf.DataID,
		Group:  conf.Group,
		OnChange: func(_, _, _, data string) {
			safe.Go("nacos-apply", func() { w.update(data) })
		},
	})
	if err != nil {
		src.CloseClient()
		return nil, errs.WrapMsg(err, "nacos listen", "dataId", conf.DataID, "group", conf.Group)
	}
	logger.Info("[config] watching", zap.String("dataId", conf.DataID), zap.String("group", conf.Group))
	return w, nil
}

func (w *Watcher) update(data string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, err := ParseOverrides(data)
	if err != nil {
		logger.Warn("[config] ignoring bad document", zap.Error(err))
		return
	}
	w.current = data
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Apply(ctx, w.room, o); err != nil {
		logger.Warn("[config] recompute after change failed", zap.Error(err))
	}
}

// Current returns the last document that parsed.
func (w *Watcher) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

func (w *Watcher) Close() {
	if err := w.src.CancelListenConfig(vo.ConfigParam{DataId: w.conf.DataID, Group: w.conf.Group}); err != nil {
		logger.Warn("[config] cancel listen", zap.Error(err))
	}
	w.src.CloseClient()
}

func splitHostPort(s string) (string, uint64, error) {
	host, p, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, errs.ErrArgs.WrapMsg("bad nacos address", "addr", s)
	}
	port, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return "", 0, errs.ErrArgs.WrapMsg("bad nacos port", "addr", s)
	}
	return host, port, nil
}
