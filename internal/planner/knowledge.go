package planner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/raedjah1/adtbot/internal/logging"
)

// AuthFields are the selectors used to sign in on a platform.
type AuthFields struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Submit   string `yaml:"submit"`
}

// PlatformInfo is what the planner knows about a target platform.
type PlatformInfo struct {
	URL          string            `yaml:"url"`
	LoginURL     string            `yaml:"login_url"`
	AuthFields   AuthFields        `yaml:"auth_fields"`
	ContentLimit int               `yaml:"content_limit"`
	Selectors    map[string]string `yaml:"selectors"`
}

// knowledgeFile is the on-disk layout of a knowledge override file.
type knowledgeFile struct {
	Platforms map[string]PlatformInfo `yaml:"platforms"`
}

// genericPlatform is used for platforms the knowledge base does not know.
var genericPlatform = PlatformInfo{
	AuthFields: AuthFields{
		Username: "input[type=email], input[name=username], input[name=email]",
		Password: "input[type=password]",
		Submit:   "button[type=submit], input[type=submit]",
	},
}

func builtinPlatforms() map[string]PlatformInfo {
	return map[string]PlatformInfo{
		"twitter": {
			URL:      "https://x.com",
			LoginURL: "https://x.com/i/flow/login",
			AuthFields: AuthFields{
				Username: "input[autocomplete=username]",
				Password: "input[name=password]",
				Submit:   "[data-testid=LoginForm_Login_Button]",
			},
			ContentLimit: 280,
			Selectors: map[string]string{
				"compose_post": "[data-testid=SideNav_NewTweet_Button]",
				"add_content":  "[data-testid=tweetTextarea_0]",
				"submit_post":  "[data-testid=tweetButton]",
			},
		},
		"linkedin": {
			URL:      "https://www.linkedin.com/feed/",
			LoginURL: "https://www.linkedin.com/login",
			AuthFields: AuthFields{
				Username: "#username",
				Password: "#password",
				Submit:   "button[type=submit]",
			},
			ContentLimit: 3000,
			Selectors: map[string]string{
				"compose_post": "button.share-box-feed-entry__trigger",
				"add_content":  "div.ql-editor",
				"submit_post":  "button.share-actions__primary-action",
			},
		},
		"facebook": {
			URL:      "https://www.facebook.com",
			LoginURL: "https://www.facebook.com/login",
			AuthFields: AuthFields{
				Username: "#email",
				Password: "#pass",
				Submit:   "button[name=login]",
			},
			ContentLimit: 63206,
		},
		"instagram": {
			URL:      "https://www.instagram.com",
			LoginURL: "https://www.instagram.com/accounts/login/",
			AuthFields: AuthFields{
				Username: "input[name=username]",
				Password: "input[name=password]",
				Submit:   "button[type=submit]",
			},
			ContentLimit: 2200,
		},
		"reddit": {
			URL:      "https://www.reddit.com",
			LoginURL: "https://www.reddit.com/login/",
			AuthFields: AuthFields{
				Username: "#login-username",
				Password: "#login-password",
				Submit:   "button.login",
			},
			ContentLimit: 40000,
		},
		"github": {
			URL:      "https://github.com",
			LoginURL: "https://github.com/login",
			AuthFields: AuthFields{
				Username: "#login_field",
				Password: "#password",
				Submit:   "input[name=commit]",
			},
			Selectors: map[string]string{
				"enter_search": "input[name=query-builder-test]",
			},
		},
		"gmail": {
			URL:      "https://mail.google.com",
			LoginURL: "https://accounts.google.com/signin",
			AuthFields: AuthFields{
				Username: "input[type=email]",
				Password: "input[type=password]",
				Submit:   "#identifierNext, #passwordNext",
			},
			Selectors: map[string]string{
				"open_compose":  "div.T-I.T-I-KE",
				"write_message": "div[aria-label='Message Body']",
				"send_message":  "div[aria-label^='Send']",
			},
		},
	}
}

// KnowledgeBase is the platform table consulted while planning. File
// overrides take precedence over built-in entries. It is safe for
// concurrent use.
type KnowledgeBase struct {
	mu        sync.RWMutex
	builtin   map[string]PlatformInfo
	overrides map[string]PlatformInfo
	logger    *logging.Logger
}

// NewKnowledgeBase returns a knowledge base holding the built-in platforms.
func NewKnowledgeBase(logger *logging.Logger) *KnowledgeBase {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &KnowledgeBase{
		builtin:   builtinPlatforms(),
		overrides: map[string]PlatformInfo{},
		logger:    logger.WithComponent("knowledge"),
	}
}

// Lookup returns the entry for platform. Unknown or empty platforms yield
// the generic entry and false.
func (kb *KnowledgeBase) Lookup(platform string) (PlatformInfo, bool) {
	key := strings.ToLower(strings.TrimSpace(platform))
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	if info, ok := kb.overrides[key]; ok {
		return info, true
	}
	if info, ok := kb.builtin[key]; ok {
		return info, true
	}
	return genericPlatform, false
}

// Platforms returns the names of all known platforms.
func (kb *KnowledgeBase) Platforms() []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	seen := make(map[string]bool, len(kb.builtin)+len(kb.overrides))
	var names []string
	for _, m := range []map[string]PlatformInfo{kb.builtin, kb.overrides} {
		for name := range m {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// LoadFile replaces the overrides with the platforms in a YAML file.
// On error the previous overrides are kept.
func (kb *KnowledgeBase) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read knowledge file: %w", err)
	}
	var file knowledgeFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse knowledge file %s: %w", path, err)
	}

	overrides := make(map[string]PlatformInfo, len(file.Platforms))
	for name, info := range file.Platforms {
		overrides[strings.ToLower(strings.TrimSpace(name))] = info
	}

	kb.mu.Lock()
	kb.overrides = overrides
	kb.mu.Unlock()

	kb.logger.Info("knowledge file loaded", "path", path, "platforms", len(overrides))
	return nil
}

// KnowledgeWatcher reloads a KnowledgeBase when its file changes.
type KnowledgeWatcher struct {
	watcher  *fsnotify.Watcher
	kb       *KnowledgeBase
	path     string
	onReload func(error)
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// reloadDebounce collapses the bursts of events editors emit per save.
const reloadDebounce = 100 * time.Millisecond

// WatchFile starts watching path and reloads kb after every write.
// onReload, if not nil, is called with the result of each reload.
func (kb *KnowledgeBase) WatchFile(path string, onReload func(error)) (*KnowledgeWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so atomic renames by editors are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	w := &KnowledgeWatcher{
		watcher:  watcher,
		kb:       kb,
		path:     filepath.Clean(path),
		onReload: onReload,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *KnowledgeWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		_ = w.watcher.Close()
	})
	<-w.doneCh
}

func (w *KnowledgeWatcher) loop() {
	defer close(w.doneCh)

	debounce := time.NewTimer(reloadDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}

	for {
		select {
		case <-w.stopCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			err := w.kb.LoadFile(w.path)
			if err != nil {
				w.kb.logger.Warn("knowledge reload failed", "path", w.path, "error", err.Error())
			}
			if w.onReload != nil {
				w.onReload(err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.kb.logger.Warn("knowledge watcher error", "error", err.Error())
		}
	}
}
