package downloader

import (
	"reflect"
	"testing"
)

func TestParseProxyList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", nil},
		{"single", "http://proxy1:8080", []string{"http://proxy1:8080"}},
		{
			"comma separated",
			"http://proxy1:8080,socks5://proxy2:1080",
			[]string{"http://proxy1:8080", "socks5://proxy2:1080"},
		},
		{
			"semicolon separated",
			"http://a:80;https://b:443",
			[]string{"http://a:80", "https://b:443"},
		},
		{
			"newline separated",
			"http://a:80\nsocks5h://b:1080\n",
			[]string{"http://a:80", "socks5h://b:1080"},
		},
		{
			"mixed separators and whitespace",
			" http://a:80 , socks5://b:1080 ;\n https://c:443 ",
			[]string{"http://a:80", "socks5://b:1080", "https://c:443"},
		},
		{
			"invalid schemes dropped",
			"ftp://bad:21,http://good:80,notaurl",
			[]string{"http://good:80"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseProxyList(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseProxyList(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestPickEmptyList(t *testing.T) {
	s := NewProxySelector("")
	if got := s.Pick(); got != "" {
		t.Errorf("Pick() on empty list = %q, want empty", got)
	}
}

func TestPickReturnsConfiguredProxy(t *testing.T) {
	s := NewProxySelector("http://a:80,http://b:80")
	allowed := map[string]bool{"http://a:80": true, "http://b:80": true}
	for i := 0; i < 20; i++ {
		if p := s.Pick(); !allowed[p] {
			t.Fatalf("Pick() = %q, not in configured list", p)
		}
	}
}

func TestListIsACopy(t *testing.T) {
	s := NewProxySelector("http://a:80")
	list := s.List()
	list[0] = "mutated"
	if s.Pick() != "http://a:80" {
		t.Error("mutating List() result changed internal state")
	}
}
