/*
scenarios_test.go - Tests for demo scenario loaders

Verifies each scenario leaves the database in a state the rest of the API
can operate on: consistent snapshots, contracted margins where promised,
and previews that pass against the freshly locked figures.
*/
package api

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
)

func loadScenario(t *testing.T, router *chi.Mux, token, id string) {
	t.Helper()
	rec := doJSON(t, router, "POST", "/api/scenarios/load", token,
		map[string]string{"scenario_id": id}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 loading %s, got %d: %s", id, rec.Code, rec.Body)
	}
}

func TestScenarios_Listed(t *testing.T) {
	router, _ := newTestServer(t)
	token := openSession(t, router)

	var list []ScenarioDTO
	rec := doJSON(t, router, "GET", "/api/scenarios", token, nil, &list)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if len(list) != len(scenarios) {
		t.Errorf("Expected %d scenarios, got %d", len(scenarios), len(list))
	}
}

func TestScenario_FreshCatalog(t *testing.T) {
	router, _ := newTestServer(t)
	token := openSession(t, router)

	loadScenario(t, router, token, "fresh-catalog")

	var therapies []TherapyDTO
	doJSON(t, router, "GET", "/api/therapies", token, nil, &therapies)
	if len(therapies) == 0 {
		t.Fatal("Expected a seeded catalog")
	}

	var programs []ProgramDTO
	doJSON(t, router, "GET", "/api/programs", token, nil, &programs)
	if len(programs) != 0 {
		t.Errorf("Expected no programs, got %d", len(programs))
	}
}

func TestScenario_ContractedProgram_LocksMargin(t *testing.T) {
	router, _ := newTestServer(t)
	token := openSession(t, router)

	loadScenario(t, router, token, "contracted-program")

	var programs []ProgramDTO
	doJSON(t, router, "GET", "/api/programs", token, nil, &programs)
	if len(programs) != 1 {
		t.Fatalf("Expected 1 program, got %d", len(programs))
	}
	if programs[0].Status != "active" {
		t.Errorf("Expected active status, got %s", programs[0].Status)
	}

	var fin FinancesDTO
	doJSON(t, router, "GET", fmt.Sprintf("/api/programs/%d/finances", programs[0].ID), token, nil, &fin)
	if fin.ContractedAtMargin == nil {
		t.Fatal("Expected a contracted margin")
	}
	if *fin.ContractedAtMargin != fin.Margin {
		t.Errorf("Expected contracted margin %v to equal locked margin %v",
			*fin.ContractedAtMargin, fin.Margin)
	}
}

func TestScenario_SnapshotsConsistentWithItems(t *testing.T) {
	// Every seeded program must pass an empty-batch preview: the locked
	// figures were derived from the very items the preview re-reads.
	for _, id := range []string{"quote-in-progress", "contracted-program", "financed-program"} {
		t.Run(id, func(t *testing.T) {
			router, _ := newTestServer(t)
			token := openSession(t, router)
			loadScenario(t, router, token, id)

			var programs []ProgramDTO
			doJSON(t, router, "GET", "/api/programs", token, nil, &programs)
			if len(programs) == 0 {
				t.Fatal("Expected a seeded program")
			}

			var res PreviewResponse
			rec := doJSON(t, router, "POST",
				fmt.Sprintf("/api/programs/%d/changes/preview", programs[0].ID),
				token, PreviewRequest{}, &res)
			if rec.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body)
			}
			if !res.OK {
				t.Errorf("Expected empty batch to pass, deltas: %+v", res.Deltas)
			}
		})
	}
}

func TestScenario_Current(t *testing.T) {
	router, _ := newTestServer(t)
	token := openSession(t, router)

	loadScenario(t, router, token, "quote-in-progress")

	var current ScenarioDTO
	doJSON(t, router, "GET", "/api/scenarios/current", token, nil, &current)
	if current.ID != "quote-in-progress" {
		t.Errorf("Expected quote-in-progress, got %q", current.ID)
	}
}

func TestScenario_UnknownRejected(t *testing.T) {
	router, _ := newTestServer(t)
	token := openSession(t, router)

	rec := doJSON(t, router, "POST", "/api/scenarios/load", token,
		map[string]string{"scenario_id": "does-not-exist"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}
