package registry

import (
	"testing"

	"opengemini-client/endpoint"
)

func TestStatic(t *testing.T) {
	a := endpoint.Endpoint{Host: "10.0.0.1", Port: 8086}
	b := endpoint.Endpoint{Host: "10.0.0.2", Port: 8086}

	reg := NewStatic("prod", a)
	defer reg.Close()

	updates := reg.Watch("prod")
	if eps := <-updates; len(eps) != 1 || eps[0] != a {
		t.Fatalf("expect initial list [%v], got %v", a, eps)
	}

	reg.Register("prod", b, 0)
	reg.Register("prod", b, 0) // already present

	eps, err := reg.Discover("prod")
	if err != nil {
		t.Fatal(err)
	}
	if len(eps) != 2 {
		t.Fatalf("expect 2 endpoints, got %v", eps)
	}
	if got := <-updates; len(got) != 2 {
		t.Fatalf("expect watch update with 2 endpoints, got %v", got)
	}

	reg.Deregister("prod", a)
	eps, _ = reg.Discover("prod")
	if len(eps) != 1 || eps[0] != b {
		t.Fatalf("expect [%v] after deregister, got %v", b, eps)
	}

	if eps, _ := reg.Discover("other"); len(eps) != 0 {
		t.Fatalf("expect unknown cluster to be empty, got %v", eps)
	}
}
