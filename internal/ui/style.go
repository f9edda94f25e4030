package ui

const stylesheet = `
:root{--bg:#f7f7f8;--fg:#1d1d1f;--panel:#fff;--muted:#6b6b76;--border:#dcdce0;--accent:#2f5bea;
--error:#c62828;--warning:#b26a00;--success:#2e7d32;--info:#1565c0}
[data-theme=dark]{--bg:#121214;--fg:#ececf1;--panel:#1c1c20;--muted:#9a9aa6;--border:#2e2e35;--accent:#7b9bff}
*{box-sizing:border-box}
body{margin:0;font-family:system-ui,sans-serif;background:var(--bg);color:var(--fg)}
.topbar{display:flex;justify-content:space-between;align-items:center;padding:.75rem 1.5rem;border-bottom:1px solid var(--border)}
.topbar h1{font-size:1.25rem;margin:0}
.layout{display:grid;grid-template-columns:280px 1fr;gap:1rem;padding:1rem 1.5rem}
.panel{background:var(--panel);border:1px solid var(--border);border-radius:8px;padding:1rem;margin-bottom:1rem}
.panel h2{font-size:1rem;margin:0 0 .75rem}
.plain{list-style:none;margin:0;padding:0}
.query,.history{width:100%;text-align:left;background:none;border:0;padding:.4rem;border-radius:4px;color:inherit;cursor:pointer}
.query.active,.query:hover,.history:hover{background:var(--bg)}
.muted{color:var(--muted)}
.editor textarea{width:100%;font-family:ui-monospace,monospace;padding:.5rem;background:var(--bg);color:var(--fg);border:1px solid var(--border);border-radius:4px}
.actions{display:flex;gap:.5rem;align-items:center;margin-top:.5rem}
.btn{background:var(--accent);color:#fff;border:0;border-radius:4px;padding:.4rem .9rem;cursor:pointer;text-decoration:none}
.btn.secondary{background:none;color:var(--fg);border:1px solid var(--border)}
.btn[disabled]{opacity:.5;cursor:not-allowed}
.inline-error{color:var(--error);margin:.5rem 0 0}
.toasts{list-style:none;margin:0;padding:.5rem 1.5rem}
.toast{padding:.5rem .75rem;border-radius:4px;margin-bottom:.25rem;color:#fff}
.toast.error{background:var(--error)}.toast.warning{background:var(--warning)}
.toast.success{background:var(--success)}.toast.info{background:var(--info)}
.banner{margin:0 1.5rem;padding:.6rem .9rem;border-radius:4px;color:#fff;background:var(--warning)}
.results-head{display:flex;justify-content:space-between;align-items:center}
.table-wrap{overflow:auto;max-height:480px}
table{border-collapse:collapse;width:100%}
th,td{text-align:left;padding:.35rem .6rem;border-bottom:1px solid var(--border);white-space:nowrap}
th{position:sticky;top:0;background:var(--panel)}
.pager{display:flex;gap:.5rem;margin-top:.75rem}
@media (max-width:800px){.layout{grid-template-columns:1fr}}
`
