package core

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestConfigDefault1(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf(" default config is not valid: %v ", err)
	}
	if cfg.TcpWnd != 2144 || cfg.TcpSndQueueLen != 8 || cfg.PbufPoolBufSize != 592 {
		t.Fatalf(" defaults wnd:%d queuelen:%d bufsize:%d ", cfg.TcpWnd, cfg.TcpSndQueueLen, cfg.PbufPoolBufSize)
	}
	if cfg.TcpWndUpdateThreshold() != 536 || cfg.TcpSlowTmrInterval() != 500 {
		t.Fatalf(" derived values ")
	}
}

func TestConfigYaml1(t *testing.T) {
	raw := []byte("tcp_mss: 1460\ntcp_wnd: 5840\nlegacy_iss: true\n")
	cfg, err := ParseConfig(raw, false)
	if err != nil {
		t.Fatalf(" %v ", err)
	}
	if cfg.TcpMss != 1460 || cfg.TcpWnd != 5840 || !cfg.LegacyIss || cfg.TcpMaxRtx != 12 {
		t.Fatalf(" yaml not applied over defaults %+v ", cfg)
	}
	if _, err := ParseConfig([]byte("tcp_bogus: 1\n"), false); err == nil {
		t.Fatalf(" unknown yaml key should fail ")
	}
}

func TestConfigJson1(t *testing.T) {
	cfg, err := ParseConfig([]byte(`{"tcp_mss": 1000, "pbuf_pool_size": 32}`), true)
	if err != nil {
		t.Fatalf(" %v ", err)
	}
	if cfg.TcpMss != 1000 || cfg.PbufPoolSize != 32 {
		t.Fatalf(" json not applied ")
	}
	if _, err := ParseConfig([]byte(`{"no_such_option": 1}`), true); err == nil {
		t.Fatalf(" schema should reject unknown keys ")
	}
	if _, err := ParseConfig([]byte(`{"tcp_mss": 10}`), true); err == nil {
		t.Fatalf(" schema should reject small mss ")
	}
}

func TestConfigValidate1(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TcpLocalPortEnd = cfg.TcpLocalPortStart - 1
	if cfg.Validate() == nil {
		t.Fatalf(" port range end before start ")
	}
	cfg = DefaultConfig()
	cfg.TcpMaxRtx = 13
	if cfg.Validate() == nil {
		t.Fatalf(" maxrtx bigger than the backoff table ")
	}
}

func TestConfigLoad1(t *testing.T) {
	dir, err := ioutil.TempDir("", "lwstack")
	if err != nil {
		t.Fatalf(" %v ", err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "stack.yaml")
	ioutil.WriteFile(path, []byte("tcp_keepcnt: 3\n"), 0644)
	cfg, err := LoadConfig(path)
	if err != nil || cfg.TcpKeepCnt != 3 {
		t.Fatalf(" load %v ", err)
	}
	if _, err := LoadConfig(filepath.Join(dir, "stack.ini")); err == nil {
		t.Fatalf(" unknown extension ")
	}
}
