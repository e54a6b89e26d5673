// Copyright (c) 2020 Cisco Systems and/or its affiliates.
// Licensed under the Apache License, Version 2.0 (the "License");
// that can be found in the LICENSE file in the root of the source
// tree.

package core

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator"
	"github.com/intel-go/fastjson"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v2"
)

/* Config holds the compile time options of lwIP as runtime values.
   The values are read once when a stack is created and are not changed afterward.
   Time values are in msec.
*/
type Config struct {
	/* memory pools */
	MempNumPbuf          uint16 `json:"memp_num_pbuf"           yaml:"memp_num_pbuf"           validate:"min=1"`
	MempNumTcpPcb        uint16 `json:"memp_num_tcp_pcb"        yaml:"memp_num_tcp_pcb"        validate:"min=1"`
	MempNumTcpPcbListen  uint16 `json:"memp_num_tcp_pcb_listen" yaml:"memp_num_tcp_pcb_listen" validate:"min=1"`
	MempNumTcpSeg        uint16 `json:"memp_num_tcp_seg"        yaml:"memp_num_tcp_seg"        validate:"min=1"`
	MempNumSysTimeout    uint16 `json:"memp_num_sys_timeout"    yaml:"memp_num_sys_timeout"    validate:"min=2"`
	PbufPoolSize         uint16 `json:"pbuf_pool_size"          yaml:"pbuf_pool_size"          validate:"min=1"`
	PbufPoolBufSize      uint16 `json:"pbuf_pool_bufsize"       yaml:"pbuf_pool_bufsize"       validate:"min=64"`
	MemSize              uint32 `json:"mem_size"                yaml:"mem_size"                validate:"min=256"`
	PbufLinkHlen         uint16 `json:"pbuf_link_hlen"          yaml:"pbuf_link_hlen"          validate:"max=64"`
	PbufLinkEncapsulHlen uint16 `json:"pbuf_link_encapsul_hlen" yaml:"pbuf_link_encapsul_hlen" validate:"max=64"`

	/* ip */
	IpDefaultTtl uint8 `json:"ip_default_ttl" yaml:"ip_default_ttl" validate:"min=1"`

	/* tcp */
	TcpTtl                uint8  `json:"tcp_ttl"                 yaml:"tcp_ttl"                 validate:"min=1"`
	TcpMss                uint16 `json:"tcp_mss"                 yaml:"tcp_mss"                 validate:"min=64,max=65495"`
	TcpWnd                uint16 `json:"tcp_wnd"                 yaml:"tcp_wnd"                 validate:"min=128"`
	TcpSndBuf             uint16 `json:"tcp_snd_buf"             yaml:"tcp_snd_buf"             validate:"min=128"`
	TcpSndQueueLen        uint16 `json:"tcp_snd_queuelen"        yaml:"tcp_snd_queuelen"        validate:"min=2"`
	TcpMaxRtx             uint8  `json:"tcp_maxrtx"              yaml:"tcp_maxrtx"              validate:"min=1,max=12"`
	TcpSynMaxRtx          uint8  `json:"tcp_synmaxrtx"           yaml:"tcp_synmaxrtx"           validate:"min=1,max=12"`
	TcpQueueOoseq         bool   `json:"tcp_queue_ooseq"         yaml:"tcp_queue_ooseq"`
	TcpMsl                uint32 `json:"tcp_msl"                 yaml:"tcp_msl"                 validate:"min=500"`
	TcpFinWaitTimeout     uint32 `json:"tcp_fin_wait_timeout"    yaml:"tcp_fin_wait_timeout"    validate:"min=500"`
	TcpSynRcvdTimeout     uint32 `json:"tcp_syn_rcvd_timeout"    yaml:"tcp_syn_rcvd_timeout"    validate:"min=500"`
	TcpOoseqTimeout       uint32 `json:"tcp_ooseq_timeout"       yaml:"tcp_ooseq_timeout"       validate:"min=1"`
	TcpKeepIdle           uint32 `json:"tcp_keepidle"            yaml:"tcp_keepidle"            validate:"min=1000"`
	TcpKeepIntvl          uint32 `json:"tcp_keepintvl"           yaml:"tcp_keepintvl"           validate:"min=1000"`
	TcpKeepCnt            uint32 `json:"tcp_keepcnt"             yaml:"tcp_keepcnt"             validate:"min=1"`
	TcpLocalPortStart     uint16 `json:"tcp_local_port_start"    yaml:"tcp_local_port_start"    validate:"min=1"`
	TcpLocalPortEnd       uint16 `json:"tcp_local_port_end"      yaml:"tcp_local_port_end"      validate:"gtefield=TcpLocalPortStart"`
	TcpListenBacklog      uint8  `json:"tcp_listen_backlog"      yaml:"tcp_listen_backlog"      validate:"min=1"`
	LegacyIss             bool   `json:"legacy_iss"              yaml:"legacy_iss"`

	/* timers */
	TcpTmrInterval uint32 `json:"tcp_tmr_interval" yaml:"tcp_tmr_interval" validate:"min=10"`
}

// DefaultConfig returns the lwIP opt.h defaults
func DefaultConfig() *Config {
	o := new(Config)
	o.MempNumPbuf = 16
	o.MempNumTcpPcb = 5
	o.MempNumTcpPcbListen = 8
	o.MempNumTcpSeg = 16
	o.MempNumSysTimeout = 16
	o.PbufPoolSize = 16
	o.PbufLinkHlen = 14
	o.PbufLinkEncapsulHlen = 0
	o.TcpMss = 536
	o.PbufPoolBufSize = memAlignSize(o.TcpMss + 40 + o.PbufLinkHlen)
	o.MemSize = 8192

	o.IpDefaultTtl = 255
	o.TcpTtl = 255
	o.TcpWnd = 4 * o.TcpMss
	o.TcpSndBuf = 2 * o.TcpMss
	o.TcpSndQueueLen = (4*o.TcpSndBuf + (o.TcpMss - 1)) / o.TcpMss
	o.TcpMaxRtx = 12
	o.TcpSynMaxRtx = 6
	o.TcpQueueOoseq = true
	o.TcpMsl = 60000
	o.TcpFinWaitTimeout = 20000
	o.TcpSynRcvdTimeout = 20000
	o.TcpOoseqTimeout = 6
	o.TcpKeepIdle = 7200000
	o.TcpKeepIntvl = 75000
	o.TcpKeepCnt = 9
	o.TcpLocalPortStart = 0xc000
	o.TcpLocalPortEnd = 0xffff
	o.TcpListenBacklog = 0xff
	o.LegacyIss = false
	o.TcpTmrInterval = 250
	return o
}

func memAlignSize(size uint16) uint16 {
	return (size + 3) &^ 3
}

// TcpWndUpdateThreshold the window inflation that forces an immediate window update
func (o *Config) TcpWndUpdateThreshold() uint32 {
	return uint32(o.TcpWnd) / 4
}

// TcpSlowTmrInterval the slow timer runs every other tcp timer tick
func (o *Config) TcpSlowTmrInterval() uint32 {
	return 2 * o.TcpTmrInterval
}

// Validate run the struct validation rules
func (o *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if uint32(o.TcpSndBuf) > 0xffff-uint32(o.TcpMss) {
		return fmt.Errorf("invalid config: tcp_snd_buf %d too big for mss %d", o.TcpSndBuf, o.TcpMss)
	}
	return nil
}

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "patternProperties": {
    "^(memp_num_[a-z_]+|pbuf_[a-z_]+|mem_size|ip_default_ttl|tcp_[a-z_]+)$": { "type": ["integer", "boolean"] }
  },
  "properties": {
    "legacy_iss": { "type": "boolean" },
    "tcp_queue_ooseq": { "type": "boolean" },
    "tcp_mss": { "type": "integer", "minimum": 64, "maximum": 65495 },
    "tcp_wnd": { "type": "integer", "minimum": 128, "maximum": 65535 },
    "pbuf_pool_bufsize": { "type": "integer", "minimum": 64, "maximum": 65535 }
  }
}`

var configSchemaLoader gojsonschema.JSONLoader = nil

func validateJsonSchema(raw []byte) error {
	if configSchemaLoader == nil {
		configSchemaLoader = gojsonschema.NewStringLoader(configSchema)
	}
	result, err := gojsonschema.Validate(configSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return err
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("config schema: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ParseConfig decode a json or yaml buffer over the defaults
func ParseConfig(raw []byte, isJson bool) (*Config, error) {
	o := DefaultConfig()
	if isJson {
		if err := validateJsonSchema(raw); err != nil {
			return nil, err
		}
		if err := fastjson.Unmarshal(raw, o); err != nil {
			return nil, fmt.Errorf("config json: %w", err)
		}
	} else {
		if err := yaml.UnmarshalStrict(raw, o); err != nil {
			return nil, fmt.Errorf("config yaml: %w", err)
		}
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// LoadConfig load config from a .json/.yaml/.yml file
func LoadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseConfig(raw, true)
	case ".yaml", ".yml":
		return ParseConfig(raw, false)
	default:
		return nil, fmt.Errorf("unknown config file type %s", path)
	}
}
