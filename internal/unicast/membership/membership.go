// Package membership tracks the current set of peers (the "view") and
// notifies the engine when it changes, generalized from
// internal/gateway/discovery.EtcdClient (service registration +
// prefix watch) into a membership watcher whose only output is an
// ordered set of addr.Addr (spec §4.7).
package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/aetherflow/unicast/internal/unicast/addr"
)

// View is an immutable, ordered snapshot of the group's members.
type View struct {
	ID      uint64
	Members []addr.Addr
}

// Contains reports whether a is a member of this view.
func (v View) Contains(a addr.Addr) bool {
	for _, m := range v.Members {
		if m == a {
			return true
		}
	}
	return false
}

// Set returns the view's members as a lookup set, for ageout.Cache.DropMembers
// and connection-table pruning (spec §4.7).
func (v View) Set() map[addr.Addr]struct{} {
	out := make(map[addr.Addr]struct{}, len(v.Members))
	for _, m := range v.Members {
		out[m] = struct{}{}
	}
	return out
}

// OnViewChange is invoked with the new view whenever membership changes.
type OnViewChange func(v View)

// EtcdWatcher derives a View from the keys under an etcd prefix,
// one member per key, the way the teacher's EtcdClient.Watch reports
// raw PUT/DELETE events, but folded into a coherent point-in-time set
// rather than a stream of individual key events.
type EtcdWatcher struct {
	client *clientv3.Client
	logger *zap.Logger
	prefix string

	mu       sync.Mutex
	members  map[string]addr.Addr
	viewID   uint64
	onChange OnViewChange

	ctx    context.Context
	cancel context.CancelFunc
}

// Config configures the etcd connection backing the watcher.
type Config struct {
	Endpoints   []string
	DialTimeout time.Duration
	Username    string
	Password    string
}

// NewEtcdWatcher dials etcd and returns a watcher for prefix. Call
// Watch to begin receiving view-change callbacks.
func NewEtcdWatcher(cfg *Config, prefix string, logger *zap.Logger) (*EtcdWatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("membership: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	clientCfg := clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	}
	if cfg.Username != "" {
		clientCfg.Username = cfg.Username
		clientCfg.Password = cfg.Password
	}

	client, err := clientv3.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("membership: create etcd client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EtcdWatcher{
		client:  client,
		logger:  logger,
		prefix:  prefix,
		members: make(map[string]addr.Addr),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Watch fetches the current member set under the prefix, delivers an
// initial view, then invokes onChange on every subsequent PUT/DELETE
// under the prefix.
func (w *EtcdWatcher) Watch(onChange OnViewChange) error {
	w.mu.Lock()
	w.onChange = onChange
	w.mu.Unlock()

	resp, err := w.client.Get(w.ctx, w.prefix, clientv3.WithPrefix())
	if err != nil {
		return fmt.Errorf("membership: initial get: %w", err)
	}

	w.mu.Lock()
	for _, kv := range resp.Kvs {
		w.members[string(kv.Key)] = addr.Addr{Host: string(kv.Value)}
	}
	view := w.snapshotLocked()
	w.mu.Unlock()
	w.deliver(view)

	watchCh := w.client.Watch(w.ctx, w.prefix, clientv3.WithPrefix(), clientv3.WithPrevKV())
	go w.watchLoop(watchCh)
	return nil
}

func (w *EtcdWatcher) watchLoop(watchCh clientv3.WatchChan) {
	for {
		select {
		case <-w.ctx.Done():
			return
		case resp, ok := <-watchCh:
			if !ok {
				w.logger.Warn("membership: watch channel closed")
				return
			}
			if resp.Err() != nil {
				w.logger.Error("membership: watch error", zap.Error(resp.Err()))
				continue
			}

			w.mu.Lock()
			changed := false
			for _, ev := range resp.Events {
				key := string(ev.Kv.Key)
				switch ev.Type {
				case clientv3.EventTypePut:
					w.members[key] = addr.Addr{Host: string(ev.Kv.Value)}
					changed = true
				case clientv3.EventTypeDelete:
					delete(w.members, key)
					changed = true
				}
			}
			var view View
			if changed {
				view = w.snapshotLocked()
			}
			w.mu.Unlock()

			if changed {
				w.logger.Info("membership: view changed", zap.Uint64("view_id", view.ID), zap.Int("members", len(view.Members)))
				w.deliver(view)
			}
		}
	}
}

func (w *EtcdWatcher) snapshotLocked() View {
	w.viewID++
	members := make([]addr.Addr, 0, len(w.members))
	for _, a := range w.members {
		members = append(members, a)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Host < members[j].Host })
	return View{ID: w.viewID, Members: members}
}

func (w *EtcdWatcher) deliver(v View) {
	w.mu.Lock()
	cb := w.onChange
	w.mu.Unlock()
	if cb != nil {
		cb(v)
	}
}

// Close stops the watch loop and closes the underlying etcd client.
func (w *EtcdWatcher) Close() error {
	w.cancel()
	return w.client.Close()
}
