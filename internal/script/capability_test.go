package script

import "testing"

func TestParseCapability(t *testing.T) {
	tests := []struct {
		in      string
		want    Capability
		wantErr bool
	}{
		{"", NoConfig, false},
		{"none", NoConfig, false},
		{"group", GroupConfigOnly, false},
		{" Group_And_Global ", GroupAndGlobalConfig, false},
		{"everything", NoConfig, true},
	}
	for _, tt := range tests {
		got, err := ParseCapability(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseCapability(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseCapability(%q): unexpected error %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCapability(%q): expected %v, got %v", tt.in, tt.want, got)
		}
		if round, _ := ParseCapability(got.String()); round != got {
			t.Errorf("String round trip for %v: got %v", got, round)
		}
	}
}

func TestEnvForCapability(t *testing.T) {
	w := runnerEnv()
	env := envFor(NoConfig, w)
	if env.GroupConfig != nil || env.GlobalConfig != nil {
		t.Fatalf("expected no configuration, got %+v", env)
	}
	env = envFor(GroupConfigOnly, w)
	if env.GroupConfig["url"] != "http://x" || env.GlobalConfig != nil {
		t.Fatalf("expected group configuration only, got %+v", env)
	}
	env = envFor(GroupAndGlobalConfig, w)
	if env.GlobalConfig["run_time"] != "10" {
		t.Fatalf("expected global configuration, got %+v", env)
	}
	env.GroupConfig["url"] = "changed"
	if w.GroupSettings["url"] != "http://x" {
		t.Fatal("transaction configuration must be a copy")
	}
	if env.ThreadNum != 3 || env.ProcessNum != 2 || env.Group != "g" {
		t.Fatalf("unexpected identity %+v", env)
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic registering http twice")
		}
	}()
	Register(Definition{Name: "http", New: newHTTPTransaction})
}

func TestRegistered(t *testing.T) {
	names := Registered()
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	if !found["http"] || !found["websocket"] {
		t.Fatalf("expected built-in transactions, got %v", names)
	}
}
