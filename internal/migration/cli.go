package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI `gustobot migrate` 的终端输出
type CLI struct {
	m   Migrator
	out io.Writer
}

func NewCLI(m Migrator) *CLI { return &CLI{m: m, out: os.Stdout} }

// SetOutput 测试与 cobra 使用 cmd.OutOrStdout()
func (c *CLI) SetOutput(w io.Writer) { c.out = w }

func (c *CLI) printf(format string, args ...any) { fmt.Fprintf(c.out, format, args...) }

// RunUp 应用全部待执行迁移
func (c *CLI) RunUp(ctx context.Context) error {
	c.printf("Applying session schema migrations...\n")
	return c.after(ctx, "Migrations complete.", c.m.Up(ctx))
}

// RunDown 回滚一步
func (c *CLI) RunDown(ctx context.Context) error {
	c.printf("Rolling back last migration...\n")
	return c.after(ctx, "Rollback complete.", c.m.Down(ctx))
}

// RunForce 只改版本号，不执行 SQL
func (c *CLI) RunForce(ctx context.Context, version int) error {
	if err := c.m.Force(ctx, version); err != nil {
		return err
	}
	c.printf("Version forced to %d\n", version)
	return nil
}

func (c *CLI) RunVersion(ctx context.Context) error {
	v, dirty, err := c.m.Version(ctx)
	switch {
	case err != nil:
		return err
	case v == 0:
		c.printf("No migrations applied yet.\n")
	case dirty:
		c.printf("Current version: %d (dirty)\n", v)
	default:
		c.printf("Current version: %d\n", v)
	}
	return nil
}

// RunStatus 逐条列出并附汇总行
func (c *CLI) RunStatus(ctx context.Context) error {
	statuses, err := c.m.Status(ctx)
	if err != nil {
		return err
	}
	if len(statuses) == 0 {
		c.printf("No migrations found.\n")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%06d\t%s\t%s\n", s.Version, s.Name, statusLabel(s))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	sum := Summarize(statuses)
	c.printf("\nTotal: %d, Applied: %d, Pending: %d\n", sum.Total, sum.Applied, sum.Pending)
	return nil
}

func statusLabel(s MigrationStatus) string {
	if s.Dirty {
		return "Dirty"
	}
	if s.Applied {
		return "Applied"
	}
	return "Pending"
}

// after 步骤成功后打印当前版本
func (c *CLI) after(ctx context.Context, done string, stepErr error) error {
	if stepErr != nil {
		return stepErr
	}
	v, _, err := c.m.Version(ctx)
	if err != nil {
		return err
	}
	c.printf("%s Current version: %d\n", done, v)
	return nil
}
