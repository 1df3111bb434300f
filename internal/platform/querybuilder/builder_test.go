package querybuilder

import "testing"

func TestSelectBuilder(t *testing.T) {
	query, args, err := Select("id", "status").
		From("matches").
		Where(Eq("season_id", int64(25583)), In("status", []any{"LIVE", "FINISHED"})).
		OrderBy("kickoff_at").
		Limit(50).
		ToSQL()
	if err != nil {
		t.Fatalf("build select query: %v", err)
	}

	want := "SELECT id, status FROM matches WHERE season_id = $1 AND status IN ($2, $3) ORDER BY kickoff_at LIMIT 50"
	if query != want {
		t.Fatalf("unexpected query:\nwant: %s\ngot:  %s", want, query)
	}
	if len(args) != 3 || args[0] != int64(25583) {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestSelectBuilder_EmptyInMatchesNothing(t *testing.T) {
	query, args, err := Select("id").
		From("teams").
		Where(In("id", nil)).
		ToSQL()
	if err != nil {
		t.Fatalf("build select query: %v", err)
	}

	want := "SELECT id FROM teams WHERE 1=0"
	if query != want {
		t.Fatalf("unexpected query: %s", query)
	}
	if len(args) != 0 {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestInsertBuilder_MultiRowWithConflictSuffix(t *testing.T) {
	query, args, err := InsertInto("teams").
		Columns("id", "name").
		Values(int64(10), "Arsenal").
		Values(int64(11), "Chelsea").
		Suffix("ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name").
		ToSQL()
	if err != nil {
		t.Fatalf("build insert query: %v", err)
	}

	want := "INSERT INTO teams (id, name) VALUES ($1, $2), ($3, $4) ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name"
	if query != want {
		t.Fatalf("unexpected query:\nwant: %s\ngot:  %s", want, query)
	}
	if len(args) != 4 || args[2] != int64(11) {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestInsertBuilder_RejectsRaggedRows(t *testing.T) {
	_, _, err := InsertInto("teams").
		Columns("id", "name").
		Values(int64(10)).
		ToSQL()
	if err == nil {
		t.Fatalf("expected error for short row")
	}
}

func TestUpdateBuilder(t *testing.T) {
	query, args, err := Update("fetch_jobs").
		Set("status", "failed").
		SetExpr("updated_at", "NOW()").
		Where(Eq("resource", "matches")).
		ToSQL()
	if err != nil {
		t.Fatalf("build update query: %v", err)
	}

	want := "UPDATE fetch_jobs SET status = $1, updated_at = NOW() WHERE resource = $2"
	if query != want {
		t.Fatalf("unexpected query:\nwant: %s\ngot:  %s", want, query)
	}
	if len(args) != 2 || args[0] != "failed" || args[1] != "matches" {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestUpdateBuilder_ExprArgsNumberAfterSets(t *testing.T) {
	query, args, err := Update("fetch_jobs").
		SetExpr("attempts", "attempts + ?", 1).
		Where(Eq("resource", "teams")).
		ToSQL()
	if err != nil {
		t.Fatalf("build update query: %v", err)
	}

	want := "UPDATE fetch_jobs SET attempts = attempts + $1 WHERE resource = $2"
	if query != want {
		t.Fatalf("unexpected query:\nwant: %s\ngot:  %s", want, query)
	}
	if len(args) != 2 || args[0] != 1 {
		t.Fatalf("unexpected args: %+v", args)
	}
}

func TestInsertModel(t *testing.T) {
	type teamRow struct {
		ID       int64  `db:"id"`
		Name     string `db:"name"`
		Internal string `db:"-"`
		NoTag    string
	}

	query, args, err := InsertModel("teams", teamRow{ID: 10, Name: "Arsenal", Internal: "x"}, "ON CONFLICT (id) DO NOTHING")
	if err != nil {
		t.Fatalf("build insert from model: %v", err)
	}

	want := "INSERT INTO teams (id, name) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING"
	if query != want {
		t.Fatalf("unexpected query:\nwant: %s\ngot:  %s", want, query)
	}
	if len(args) != 2 || args[0] != int64(10) || args[1] != "Arsenal" {
		t.Fatalf("unexpected args: %+v", args)
	}
}
