// usage-admin：查看与调整用户用量的交互式命令行；连接参数与服务端相同（USAGE_DB_DRIVER / PG_* / USAGE_SQLITE_PATH）
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jkowitt/loud-legacy-sub001/internal/config"
	"github.com/jkowitt/loud-legacy-sub001/internal/usage"
	"github.com/joho/godotenv"
)

func printHelp(w io.Writer) {
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  show <user>")
	fmt.Fprintln(w, "  plan <user> <free|starter|pro|enterprise>")
	fmt.Fprintln(w, "  recent <user> [limit]")
	fmt.Fprintln(w, "  plans")
	fmt.Fprintln(w, "  help")
	fmt.Fprintln(w, "  exit")
}

type cli struct {
	ledger usage.Ledger
	guard  *usage.Guard
	out    io.Writer
}

// exec：执行一行命令；返回 false 表示退出
func (c *cli) exec(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	switch strings.ToLower(parts[0]) {
	case "exit", "quit":
		return false
	case "help":
		printHelp(c.out)
	case "plans":
		for _, name := range usage.PlanNames() {
			p, _ := usage.LookupPlan(name)
			fmt.Fprintf(c.out, "%-10s %d/month\n", p.Name, p.Limit)
		}
	case "show":
		if len(parts) < 2 {
			fmt.Fprintln(c.out, "usage: show <user>")
			return true
		}
		a, err := c.guard.CheckAccess(ctx, parts[1])
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		fmt.Fprintf(c.out, "plan=%s used=%d limit=%d remaining=%d overage=%d cost=$%.2f next_is_overage=%v\n",
			a.Plan, a.Used, a.Limit, a.Remaining, a.OverageCount, float64(a.OverageCostCents)/100, a.WillBeOverage)
	case "plan":
		if len(parts) < 3 {
			fmt.Fprintln(c.out, "usage: plan <user> <plan>")
			return true
		}
		if _, ok := usage.LookupPlan(parts[2]); !ok {
			fmt.Fprintln(c.out, "unknown plan:", parts[2])
			return true
		}
		if err := c.ledger.SetPlan(ctx, parts[1], strings.ToLower(parts[2])); err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		fmt.Fprintln(c.out, "ok")
	case "recent":
		if len(parts) < 2 {
			fmt.Fprintln(c.out, "usage: recent <user> [limit]")
			return true
		}
		n := 20
		if len(parts) > 2 {
			if v, err := strconv.Atoi(parts[2]); err == nil && v > 0 {
				n = v
			}
		}
		recs, err := c.guard.Recent(ctx, parts[1], n)
		if err != nil {
			fmt.Fprintln(c.out, "error:", err)
			return true
		}
		for _, r := range recs {
			flag := ""
			if r.WasOverage {
				flag = " [overage]"
			}
			fmt.Fprintf(c.out, "%s %s %s %s%s\n", r.CreatedAt.Format("2006-01-02 15:04:05"), r.Period, r.Source, r.Address, flag)
		}
		if len(recs) == 0 {
			fmt.Fprintln(c.out, "(none)")
		}
	default:
		fmt.Fprintln(c.out, "unknown command:", parts[0])
		printHelp(c.out)
	}
	return true
}

func main() {
	var envFile string
	for i := 1; i < len(os.Args); i++ {
		if os.Args[i] == "--env" && i+1 < len(os.Args) {
			envFile = os.Args[i+1]
			i++
		} else if strings.HasSuffix(os.Args[i], ".env") {
			envFile = os.Args[i]
		}
	}
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		config.LoadEnvFiles()
	}
	cfg := config.Load()
	ledger, closeLedger, err := usage.OpenLedger(cfg.UsageDriver, cfg.UsageSQLitePath)
	if err != nil {
		fmt.Println("ledger error:", err)
		os.Exit(1)
	}
	defer closeLedger()
	c := &cli{
		ledger: ledger,
		guard:  usage.NewGuard(ledger, usage.GuardOptions{DefaultPlan: cfg.UsageDefaultPlan, OveragePriceCents: cfg.OveragePriceCents}),
		out:    os.Stdout,
	}
	fmt.Println("usage admin ready, driver:", cfg.UsageDriver)
	printHelp(os.Stdout)
	in := bufio.NewScanner(os.Stdin)
	ctx := context.Background()
	for {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		if !c.exec(ctx, strings.TrimSpace(in.Text())) {
			return
		}
	}
}
