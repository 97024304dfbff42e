package viewer

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>posenode</title>
<style>
body { background: #111; color: #eee; font-family: sans-serif; margin: 0; padding: 1rem; }
main { display: flex; gap: 1rem; flex-wrap: wrap; }
img { max-width: 100%; border: 1px solid #333; }
pre { background: #222; padding: .5rem; min-width: 22rem; }
button { background: #a33; color: #fff; border: 0; padding: .5rem 1rem; cursor: pointer; }
</style>
</head>
<body>
<h1>posenode</h1>
<main>
  <img src="/video.mjpg" alt="live video">
  <section>
    <pre id="status">loading...</pre>
    <pre id="events"></pre>
    <button id="exit">Stop pipeline</button>
  </section>
</main>
<script>
async function refresh() {
  const r = await fetch('/api/status');
  document.getElementById('status').textContent = JSON.stringify(await r.json(), null, 2);
}
setInterval(refresh, 2000);
refresh();

const log = document.getElementById('events');
const es = new EventSource('/api/events');
for (const name of ['state', 'record-written', 'sink-error']) {
  es.addEventListener(name, (e) => {
    log.textContent = name + ' ' + e.data + '\n' + log.textContent.slice(0, 4000);
  });
}

document.getElementById('exit').onclick = async () => {
  await fetch('/api/exit', { method: 'POST' });
  refresh();
};
</script>
</body>
</html>
`
