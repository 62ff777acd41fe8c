package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/poskusoft/pos_backend/config"
	"github.com/poskusoft/pos_backend/models"
	"github.com/poskusoft/pos_backend/notify"
	"github.com/poskusoft/pos_backend/utils"
)

func TestPostingEngineLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pos_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	models.MigrateTable()
	models.SeedDefaultWarehouse()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	notifier := notify.New()
	var notifyMu sync.Mutex
	notified := map[int]int{}
	notifier.Subscribe(func(productId int) {
		notifyMu.Lock()
		notified[productId]++
		notifyMu.Unlock()
	})
	notifiedCount := func(productId int) int {
		notifyMu.Lock()
		defer notifyMu.Unlock()
		return notified[productId]
	}

	warehouse, err := models.GetDefaultWarehouse(ctx)
	if err != nil {
		t.Fatalf("GetDefaultWarehouse: %v", err)
	}

	cola, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku:     "COLA-330",
		Barcode: "8851234567890",
		Name:    "Cola 330ml",
		Price:   decimal.RequireFromString("1500"),
		Cost:    decimal.RequireFromString("1000"),
	})
	if err != nil {
		t.Fatalf("CreateProduct cola: %v", err)
	}
	chips, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku:   "CHIPS-50",
		Name:  "Potato Chips 50g",
		Price: decimal.RequireFromString("800"),
		Cost:  decimal.RequireFromString("500"),
	})
	if err != nil {
		t.Fatalf("CreateProduct chips: %v", err)
	}

	mustBalance := func(productId, warehouseId int, want string) {
		t.Helper()
		balance, err := models.StockBalance(ctx, productId, warehouseId)
		if err != nil {
			t.Fatalf("StockBalance(%d, %d): %v", productId, warehouseId, err)
		}
		if !balance.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("ledger balance for product %d warehouse %d = %s, want %s",
				productId, warehouseId, balance, want)
		}
		cached, err := models.GetStockSummary(ctx, productId, warehouseId)
		if err != nil {
			t.Fatalf("GetStockSummary(%d, %d): %v", productId, warehouseId, err)
		}
		if !cached.Equal(balance) {
			t.Fatalf("cached qty %s diverged from ledger balance %s for product %d warehouse %d",
				cached, balance, productId, warehouseId)
		}
	}
	mustProductTotal := func(productId int, want string) {
		t.Helper()
		product, err := models.GetProduct(ctx, productId)
		if err != nil {
			t.Fatalf("GetProduct(%d): %v", productId, err)
		}
		if !product.StockQty.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("product %d total stock = %s, want %s", productId, product.StockQty, want)
		}
	}

	// 1) Restock via purchase: first purchase of the day gets PUR-<today>-0001,
	//    stock goes up and the cost basis takes the line cost (last cost).
	purchase, err := models.PostPurchase(ctx, &models.NewPurchase{
		Supplier: "Acme Distribution",
		Lines: []models.NewPurchaseLine{
			{ProductId: cola.ID, Qty: decimal.RequireFromString("10")},
			{ProductId: chips.ID, Qty: decimal.RequireFromString("5")},
		},
	}, notifier)
	if err != nil {
		t.Fatalf("PostPurchase: %v", err)
	}
	wantPurNo := models.FormatDocumentNumber(models.DocumentTypePurchase, time.Now(), 1)
	if purchase.Number != wantPurNo {
		t.Errorf("purchase number = %s, want %s", purchase.Number, wantPurNo)
	}
	if !purchase.GrandTotal.Equal(decimal.RequireFromString("12500")) {
		t.Errorf("purchase grand total = %s, want 12500", purchase.GrandTotal)
	}
	mustBalance(cola.ID, warehouse.ID, "10")
	mustBalance(chips.ID, warehouse.ID, "5")
	mustProductTotal(cola.ID, "10")
	if notifiedCount(cola.ID) != 1 {
		t.Errorf("cola notified %d times after purchase, want 1", notifiedCount(cola.ID))
	}

	// 2) A later purchase at a different cost replaces the cost basis.
	cost1200 := decimal.RequireFromString("1200")
	if _, err := models.PostPurchase(ctx, &models.NewPurchase{
		Supplier:    "Acme Distribution",
		WarehouseId: warehouse.ID,
		Lines: []models.NewPurchaseLine{
			{ProductId: cola.ID, Qty: decimal.RequireFromString("5"), Cost: &cost1200},
		},
	}, notifier); err != nil {
		t.Fatalf("PostPurchase at new cost: %v", err)
	}
	reloaded, err := models.GetProduct(ctx, cola.ID)
	if err != nil {
		t.Fatalf("GetProduct: %v", err)
	}
	if !reloaded.Cost.Equal(cost1200) {
		t.Errorf("cost basis = %s, want 1200 after restock", reloaded.Cost)
	}
	mustBalance(cola.ID, warehouse.ID, "15")

	// 3) First sale of the day: POS-<today>-0001, stock down, outbound
	//    ledger entry stamped with the current cost basis.
	sale, err := models.PostSale(ctx, &models.NewPosSale{
		Lines: []models.NewSalesLine{
			{ProductId: cola.ID, Qty: decimal.RequireFromString("2")},
		},
		Paid: decimal.RequireFromString("3000"),
	}, notifier)
	if err != nil {
		t.Fatalf("PostSale: %v", err)
	}
	wantPosNo := models.FormatDocumentNumber(models.DocumentTypeSale, time.Now(), 1)
	if sale.Number != wantPosNo {
		t.Errorf("sale number = %s, want %s", sale.Number, wantPosNo)
	}
	if !sale.GrandTotal.Equal(decimal.RequireFromString("3000")) {
		t.Errorf("sale grand total = %s, want 3000", sale.GrandTotal)
	}
	if !sale.Change.Equal(decimal.Zero) {
		t.Errorf("change = %s, want 0", sale.Change)
	}
	mustBalance(cola.ID, warehouse.ID, "13")

	entries, err := models.LedgerEntries(ctx, cola.ID, warehouse.ID)
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	last := entries[len(entries)-1]
	if last.Direction != models.StockDirectionOut {
		t.Errorf("last entry direction = %s, want O", last.Direction)
	}
	if !last.UnitCost.Equal(cost1200) {
		t.Errorf("sale entry unit cost = %s, want cost basis 1200", last.UnitCost)
	}
	if last.Note != sale.Number {
		t.Errorf("sale entry note = %s, want %s", last.Note, sale.Number)
	}

	// 4) Sale numbers run per type per day: the next one is 0002 and the
	//    purchase counter is untouched.
	sale2, err := models.PostSale(ctx, &models.NewPosSale{
		Lines: []models.NewSalesLine{
			{ProductId: chips.ID, Qty: decimal.RequireFromString("1")},
		},
		Paid: decimal.RequireFromString("800"),
	}, notifier)
	if err != nil {
		t.Fatalf("second PostSale: %v", err)
	}
	if want := models.FormatDocumentNumber(models.DocumentTypeSale, time.Now(), 2); sale2.Number != want {
		t.Errorf("second sale number = %s, want %s", sale2.Number, want)
	}

	// 5) Empty cart is rejected before anything is written.
	if _, err := models.PostSale(ctx, &models.NewPosSale{Paid: decimal.Zero}, notifier); !utils.IsValidationError(err) {
		t.Errorf("empty cart: expected ValidationError, got %v", err)
	}
	mustBalance(cola.ID, warehouse.ID, "13")

	// 6) Payment shortfall: rejected as a warning without writes, then
	//    posted when explicitly confirmed; change is reported as-is.
	shortCart := &models.NewPosSale{
		Lines: []models.NewSalesLine{
			{ProductId: cola.ID, Qty: decimal.RequireFromString("1")},
		},
		Paid: decimal.RequireFromString("1000"),
	}
	if _, err := models.PostSale(ctx, shortCart, notifier); !errors.Is(err, utils.ErrPaymentShortfall) {
		t.Fatalf("shortfall: expected ErrPaymentShortfall, got %v", err)
	}
	mustBalance(cola.ID, warehouse.ID, "13")

	shortCart.AllowShortfall = true
	confirmed, err := models.PostSale(ctx, shortCart, notifier)
	if err != nil {
		t.Fatalf("confirmed shortfall sale: %v", err)
	}
	if !confirmed.Change.Equal(decimal.RequireFromString("-500")) {
		t.Errorf("confirmed shortfall change = %s, want -500", confirmed.Change)
	}
	mustBalance(cola.ID, warehouse.ID, "12")

	// 7) Overselling is rejected and the cart rolls back whole: the second
	//    line would drive chips negative, so the cola decrement from the
	//    first line must not survive either.
	if _, err := models.PostSale(ctx, &models.NewPosSale{
		Lines: []models.NewSalesLine{
			{ProductId: cola.ID, Qty: decimal.RequireFromString("1")},
			{ProductId: chips.ID, Qty: decimal.RequireFromString("100")},
		},
		Paid: decimal.RequireFromString("100000"),
	}, notifier); !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("oversell: expected ErrInsufficientStock, got %v", err)
	}
	mustBalance(cola.ID, warehouse.ID, "12")
	mustBalance(chips.ID, warehouse.ID, "4")

	// 8) Two tills race for the last unit: exactly one sale posts, stock
	//    never goes negative and the loser is told the stock ran out.
	lastUnit, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku:   "GIFT-01",
		Name:  "Gift Box",
		Price: decimal.RequireFromString("5000"),
		Cost:  decimal.RequireFromString("3500"),
	})
	if err != nil {
		t.Fatalf("CreateProduct gift: %v", err)
	}
	if _, err := models.PostPurchase(ctx, &models.NewPurchase{
		Supplier: "Acme Distribution",
		Lines: []models.NewPurchaseLine{
			{ProductId: lastUnit.ID, Qty: decimal.RequireFromString("1")},
		},
	}, notifier); err != nil {
		t.Fatalf("PostPurchase gift: %v", err)
	}

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := models.PostSale(ctx, &models.NewPosSale{
				Lines: []models.NewSalesLine{
					{ProductId: lastUnit.ID, Qty: decimal.RequireFromString("1")},
				},
				Paid: decimal.RequireFromString("5000"),
			}, notifier)
			results <- err
		}()
	}
	var successes, stockOuts int
	for i := 0; i < 2; i++ {
		switch err := <-results; {
		case err == nil:
			successes++
		case errors.Is(err, utils.ErrInsufficientStock):
			stockOuts++
		default:
			t.Errorf("concurrent sale: unexpected error %v", err)
		}
	}
	if successes != 1 || stockOuts != 1 {
		t.Fatalf("concurrent sales: %d successes, %d stock-outs; want exactly 1 each", successes, stockOuts)
	}
	mustBalance(lastUnit.ID, warehouse.ID, "0")

	// 9) Stock is cached per (warehouse, product): the same product restocked
	//    into a second warehouse reconciles pair by pair, and the product
	//    total is the sum across warehouses.
	backRoom, err := models.CreateWarehouse(ctx, &models.NewWarehouse{Code: "BACK", Name: "Back Room"})
	if err != nil {
		t.Fatalf("CreateWarehouse back room: %v", err)
	}
	water, err := models.CreateProduct(ctx, &models.NewProduct{
		Sku:   "WATER-1L",
		Name:  "Water 1L",
		Price: decimal.RequireFromString("1000"),
		Cost:  decimal.RequireFromString("600"),
	})
	if err != nil {
		t.Fatalf("CreateProduct water: %v", err)
	}
	if _, err := models.PostPurchase(ctx, &models.NewPurchase{
		Supplier: "Acme Distribution",
		Lines: []models.NewPurchaseLine{
			{ProductId: water.ID, Qty: decimal.RequireFromString("10")},
		},
	}, notifier); err != nil {
		t.Fatalf("PostPurchase water to default: %v", err)
	}
	if _, err := models.PostPurchase(ctx, &models.NewPurchase{
		Supplier:    "Acme Distribution",
		WarehouseId: backRoom.ID,
		Lines: []models.NewPurchaseLine{
			{ProductId: water.ID, Qty: decimal.RequireFromString("5")},
		},
	}, notifier); err != nil {
		t.Fatalf("PostPurchase water to back room: %v", err)
	}
	mustBalance(water.ID, warehouse.ID, "10")
	mustBalance(water.ID, backRoom.ID, "5")
	mustProductTotal(water.ID, "15")

	// Selling from the second warehouse draws down only that pair...
	if _, err := models.PostSale(ctx, &models.NewPosSale{
		WarehouseId: backRoom.ID,
		Lines: []models.NewSalesLine{
			{ProductId: water.ID, Qty: decimal.RequireFromString("3")},
		},
		Paid: decimal.RequireFromString("3000"),
	}, notifier); err != nil {
		t.Fatalf("PostSale from back room: %v", err)
	}
	mustBalance(water.ID, backRoom.ID, "2")
	mustBalance(water.ID, warehouse.ID, "10")
	mustProductTotal(water.ID, "12")

	// ...and cannot overdraw it even while the other warehouse has stock.
	if _, err := models.PostSale(ctx, &models.NewPosSale{
		WarehouseId: backRoom.ID,
		Lines: []models.NewSalesLine{
			{ProductId: water.ID, Qty: decimal.RequireFromString("3")},
		},
		Paid: decimal.RequireFromString("3000"),
	}, notifier); !errors.Is(err, utils.ErrInsufficientStock) {
		t.Fatalf("back room oversell: expected ErrInsufficientStock, got %v", err)
	}
	mustBalance(water.ID, backRoom.ID, "2")

	// 10) Atomicity under a forced number collision: occupy the number the
	//    allocator will hand out next; the posting must fail as a duplicate
	//    and leave stock and ledger untouched.
	var seq models.DocumentSequence
	day := time.Now()
	if err := db.WithContext(ctx).
		Where("doc_type = ?", models.DocumentTypeSale).
		Order("id DESC").First(&seq).Error; err != nil {
		t.Fatalf("load sales sequence: %v", err)
	}
	squatter := models.SalesHeader{
		Number: models.FormatDocumentNumber(models.DocumentTypeSale, day, seq.LastSeq+1),
		Date:   day,
		Status: models.SalesStatusPosted,
	}
	if err := db.WithContext(ctx).Create(&squatter).Error; err != nil {
		t.Fatalf("insert squatter header: %v", err)
	}

	_, err = models.PostSale(ctx, &models.NewPosSale{
		Lines: []models.NewSalesLine{
			{ProductId: cola.ID, Qty: decimal.RequireFromString("1")},
		},
		Paid: decimal.RequireFromString("1500"),
	}, notifier)
	if !utils.IsDuplicateKey(err) {
		t.Fatalf("number collision: expected duplicate PersistenceError, got %v", err)
	}
	mustBalance(cola.ID, warehouse.ID, "12")
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pos_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
