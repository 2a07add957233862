package leveldata

import (
	"os"
	"testing"
)

func TestLoadCollisionData(t *testing.T) {
	data, err := LoadCollisionData(os.DirFS("testdata"), "box.tmx")
	if err != nil {
		t.Fatalf("LoadCollisionData: %v", err)
	}
	if data.Name != "box" || data.MapWidth != 64 || data.MapHeight != 48 {
		t.Fatalf("map %q %dx%d", data.Name, data.MapWidth, data.MapHeight)
	}
	// 4x3 ring of walls with a 2x1 hole.
	if len(data.SolidRects) != 10 {
		t.Fatalf("%d solid rects, want 10", len(data.SolidRects))
	}
	for _, r := range data.SolidRects {
		if r.X == 16 && r.Y == 16 {
			t.Fatal("empty tile loaded as solid")
		}
	}
	if len(data.SpawnPoints) != 2 {
		t.Fatalf("%d spawn points", len(data.SpawnPoints))
	}
	if sp := data.SpawnPoints[0]; sp.Index != 0 || sp.X != 24 {
		t.Fatalf("first spawn %+v", sp)
	}
	if sp, _ := data.Spawn(3); sp.Index != 1 || sp.Yaw != 180 {
		t.Fatalf("Spawn(3) = %+v", sp)
	}
	want := MoverPath{X: 16, Y: 16, DX: 32, Duration: 2, Model: 5}
	if len(data.Movers) != 1 || data.Movers[0] != want {
		t.Fatalf("movers %+v", data.Movers)
	}
	if len(data.Items) != 1 || data.Items[0] != (ItemSpawn{X: 32, Y: 24, Model: 7, Amount: 25}) {
		t.Fatalf("items %+v", data.Items)
	}
}

func TestLoadAllLevels(t *testing.T) {
	levels, names, err := LoadAllLevels(os.DirFS("."), "testdata")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "box" || levels["box"] == nil {
		t.Fatalf("names %v", names)
	}
	if _, _, err := LoadAllLevels(os.DirFS("."), "missing"); err == nil {
		t.Fatal("expected an error for a directory without maps")
	}
}

func TestSpawnWithoutPoints(t *testing.T) {
	var d *CollisionData
	if _, ok := d.Spawn(0); ok {
		t.Fatal("nil map returned a spawn")
	}
}
