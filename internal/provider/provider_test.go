package provider

import "testing"

func TestServerStateString(t *testing.T) {
	cases := map[ServerState]string{
		StateError:       "error",
		StateCreating:    "creating",
		StateRunning:     "running",
		StateStopped:     "stopped",
		StateUnknown:     "unknown",
		ServerState(999): "invalid",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("ServerState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestInfoUpdateOmitsAbsentFields(t *testing.T) {
	info := &Info{
		ServerID:      "srv-1",
		ServerAddress: "1.2.3.4",
		ServerState:   StateRunning,
		// ServerUser and ServerPassword deliberately nil: no update.
	}

	u := info.Update()

	if u.ServerID == nil || *u.ServerID != "srv-1" {
		t.Errorf("ServerID update = %v, want srv-1", u.ServerID)
	}
	if u.ServerAddress == nil || *u.ServerAddress != "1.2.3.4" {
		t.Errorf("ServerAddress update = %v, want 1.2.3.4", u.ServerAddress)
	}
	if u.ServerUser != nil {
		t.Errorf("ServerUser update = %v, want nil (absent in result)", *u.ServerUser)
	}
	if u.ServerPassword != nil {
		t.Error("ServerPassword update set, want nil (absent in result)")
	}
	if u.ServerName != nil {
		t.Error("ServerName update set, want nil (empty in result)")
	}
	if u.ServerState == nil || *u.ServerState != StateRunning {
		t.Errorf("ServerState update = %v, want running", u.ServerState)
	}
}

func TestPasswordResetInfoUpdate(t *testing.T) {
	reset := &PasswordResetInfo{
		ServerID:       "srv-1",
		ServerUser:     "root",
		ServerPassword: "hunter2",
	}

	u := reset.Update()
	if u.ServerUser == nil || *u.ServerUser != "root" {
		t.Errorf("ServerUser update = %v, want root", u.ServerUser)
	}
	if u.ServerPassword == nil || *u.ServerPassword != "hunter2" {
		t.Error("ServerPassword update missing")
	}
	if u.ServerState != nil {
		t.Error("password reset must not touch server state")
	}
}

func TestDeletedInfoUpdateIsEmpty(t *testing.T) {
	u := (&DeletedInfo{ServerID: "srv-1", Deleted: true}).Update()
	if u != (InstanceUpdate{}) {
		t.Errorf("DeletedInfo.Update() = %+v, want zero value", u)
	}
}
