package main

import "testing"

func TestParseArgsDefaultsConfigFile(t *testing.T) {
	a, err := parseArgs([]string{})
	if err != nil {
		t.Fatal(err)
	}
	if a.configFile != "aos_message_proxy.cfg" {
		t.Fatalf("got default config file %q", a.configFile)
	}
}

func TestParseArgsVersion(t *testing.T) {
	a, err := parseArgs([]string{"--version"})
	if err != nil {
		t.Fatal(err)
	}
	if !a.showVersion {
		t.Fatal("expected showVersion to be true")
	}
}

func TestParseArgsProvisioningAndJournal(t *testing.T) {
	a, err := parseArgs([]string{"-c", "/etc/aos/messageproxy.json", "-p", "-j", "-v", "debug"})
	if err != nil {
		t.Fatal(err)
	}
	if a.configFile != "/etc/aos/messageproxy.json" || !a.provisioning || !a.journal || a.verbose != "debug" {
		t.Fatalf("unexpected args: %+v", a)
	}
}
