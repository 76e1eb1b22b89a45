package camera

import (
	"net"
	"testing"
)

func TestCandidateOctets(t *testing.T) {
	tests := []struct {
		own  byte
		want []byte
	}{
		{50, []byte{51, 1}},
		{51, []byte{50, 1}},
		{2, []byte{51, 50, 1}},
		{1, []byte{51, 50}},
	}

	for _, tt := range tests {
		got := candidateOctets(tt.own)
		if len(got) != len(tt.want) {
			t.Errorf("candidateOctets(%d) = %v, want %v", tt.own, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("candidateOctets(%d) = %v, want %v", tt.own, got, tt.want)
				break
			}
		}
	}
}

func TestCandidatePeers(t *testing.T) {
	peers := candidatePeers(net.IPv4(172, 24, 106, 50))
	want := []string{"172.24.106.51", "172.24.106.1"}
	if len(peers) != len(want) {
		t.Fatalf("peers = %v, want %v", peers, want)
	}
	for i := range peers {
		if peers[i] != want[i] {
			t.Fatalf("peers = %v, want %v", peers, want)
		}
	}
}

func TestIsCameraInterface(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"enxd43260ddac87", true},
		{"usb0", true},
		{"eth0", false},
		{"wlan0", false},
		{"lo", false},
	}

	for _, tt := range tests {
		if got := isCameraInterface(tt.name); got != tt.want {
			t.Errorf("isCameraInterface(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
