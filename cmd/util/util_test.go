package util

import (
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"testing"
	"time"
)

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 40)
	for _, line := range strings.Split(WrapString(text), "\n") {
		if len(line) > Wrap {
			t.Errorf("line exceeds %d characters: %q", Wrap, line)
		}
	}
	if got := WrapString("  short   text "); got != "short text" {
		t.Errorf("WrapString = %q", got)
	}
}

func TestGetConnectionConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	cmd := &cobra.Command{Use: "test"}
	SetupConnectionFlags(cmd)
	if err := cmd.ParseFlags([]string{"--host", "10.0.0.5", "--timeout", "30s", "--tcp-nodelay=false"}); err != nil {
		t.Fatal(err)
	}
	if err := viper.BindPFlags(cmd.PersistentFlags()); err != nil {
		t.Fatal(err)
	}

	conf := GetConnectionConfig()
	if conf.Transport.Endpoint != "10.0.0.5" || conf.Transport.TCPNoDelay {
		t.Errorf("transport = %+v", conf.Transport)
	}
	if conf.RequestTimeout != 30*time.Second {
		t.Errorf("request timeout = %s", conf.RequestTimeout)
	}
	if conf.HandshakeTimeout != common.DefaultHandshakeTimeout {
		t.Errorf("handshake timeout = %s, want the default", conf.HandshakeTimeout)
	}
	if err := conf.Validate(); err != nil {
		t.Errorf("config invalid: %v", err)
	}
}
