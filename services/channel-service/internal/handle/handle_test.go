package handle

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		handle string
		ok     bool
	}{
		{"simple", "newchan", true},
		{"with digits", "chan42", true},
		{"with separators", "my.chan_el-2", true},
		{"minimum length", "abc", true},
		{"too short", "ab", false},
		{"too long", "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", false},
		{"uppercase", "NewChan", false},
		{"leading dot", ".chan", false},
		{"trailing underscore", "chan_", false},
		{"trailing dash", "chan-", false},
		{"space", "new chan", false},
		{"reserved admin", "admin-tools", false},
		{"reserved clipdeck", "clipdeck_tv", false},
		{"reserved system", "systemchan", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.handle)
			if tc.ok && err != nil {
				t.Fatalf("expected %q valid, got %v", tc.handle, err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected %q invalid", tc.handle)
			}
		})
	}
}
